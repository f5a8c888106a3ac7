package types

// ServerKeys is the on-disk format of the server ed25519 signing key
// (generated with the keys subcommand)
type ServerKeys struct {
	Type       string `json:"type"`
	PrivateKey string `json:"privateKey"` // base64, public key is the last 32 bytes
	Created    int64  `json:"created"`
}
