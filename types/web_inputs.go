package types

// challenge request (also usable for unknown emails, see ChallengeService.Issue)
type InputChallenge struct {
	Email string `json:"email" validate:"required,email"`
}

// signed-challenge login
type InputVerify struct {
	Email     string `json:"email" validate:"required,email"`
	Challenge string `json:"challenge" validate:"required"`
	Signature string `json:"signature" validate:"required"` // armored detached signature or clearsigned message
}

// registration submits the public key together with a signed challenge as
// proof of possession of the matching private key
type InputRegister struct {
	InputVerify
	PublicKey  string     `json:"publicKey" validate:"required"` // armored public key
	AuthMethod AuthMethod `json:"authMethod" validate:"required"`
}

// key-introspection request
type InputParseKey struct {
	PublicKey string `json:"publicKey" validate:"required"`
}

// key-backup deposit
type InputKeyBackup struct {
	CipherPrivateKey string `json:"cipherPrivateKey" validate:"required"` // passphrase-encrypted armored private key
}

// webauthn registration verification: attestation plus the account payload
type InputWebAuthnRegister struct {
	AttestationResponse map[string]interface{} `json:"attestationResponse" validate:"required"`
	Email               string                 `json:"email" validate:"required,email"`
	PublicKey           string                 `json:"publicKey" validate:"required"`
}

// webauthn login verification
type InputWebAuthnLogin struct {
	AssertionResponse map[string]interface{} `json:"assertionResponse" validate:"required"`
	Email             string                 `json:"email" validate:"required,email"`
}
