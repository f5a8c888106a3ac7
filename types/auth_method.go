package types

// AuthMethod is the tagged variant of how a user holds their private key.
// A single verification entry point consumes it; there is no per-call-site
// string branching.
type AuthMethod string

const (
	// AuthMethodLocalKey - the private key lives in a key file on the client device
	AuthMethodLocalKey AuthMethod = "local-key-file"
	// AuthMethodPastedKey - the private key is pasted from a password manager
	AuthMethodPastedKey AuthMethod = "password-manager-paste"
	// AuthMethodHardwareKey - a WebAuthn hardware credential guards the account
	AuthMethodHardwareKey AuthMethod = "hardware-key"
)

func (m AuthMethod) Valid() bool {
	switch m {
	case AuthMethodLocalKey, AuthMethodPastedKey, AuthMethodHardwareKey:
		return true
	}
	return false
}
