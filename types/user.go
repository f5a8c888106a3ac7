package types

// UserStatus models the identity lifecycle: created as pending when a public
// key is first submitted, active after the first successful signed-challenge
// login, disabled instead of deleted.
type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User is one end-user identity. The document is keyed by the key fingerprint;
// KeyID and Fingerprint are always rederived from PublicKeyArmor before a
// write, never trusted from the client.
type User struct {
	BaseDocument   `json:",inline"`
	Email          string     `json:"email" validate:"required,email"`
	BlindedEmail   string     `json:"blindedEmail" validate:"required"` // base64 scrypt of the email, lookup key
	PublicKeyArmor string     `json:"publicKeyArmor" validate:"required"`
	KeyID          string     `json:"keyId" validate:"required"`       // 16 hex chars
	Fingerprint    string     `json:"fingerprint" validate:"required"` // 40 hex chars
	AuthMethod     AuthMethod `json:"authMethod" validate:"required"`
	Status         UserStatus `json:"status"`
	Created        int64      `json:"created" validate:"required"`
	Modified       int64      `json:"modified,omitempty"`
}

// EmailToAccountMapping maps a blinded email to the key fingerprint so that
// lookups by email never store the address in clear
type EmailToAccountMapping struct {
	BaseDocument `json:",inline"`
	BlindedEmail string `json:"blindedEmail"`
	Fingerprint  string `json:"fingerprint"`
}
