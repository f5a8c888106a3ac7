package types

type OutputUser struct {
	Email       string     `json:"email"`
	KeyID       string     `json:"keyId"`
	Fingerprint string     `json:"fingerprint"`
	AuthMethod  AuthMethod `json:"authMethod"`
	Status      UserStatus `json:"status"`
	Created     int64      `json:"created"`
}

type OutputToken struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	User         *OutputUser `json:"user,omitempty"`
}

type OutputSuccess struct {
	Success bool `json:"success"`
}

// OutputKeyMetadata mirrors pgp.KeyMetadata at the web boundary
type OutputKeyMetadata struct {
	KeyID       string   `json:"keyId"`
	Fingerprint string   `json:"fingerprint"`
	Algorithm   string   `json:"algorithm"`
	BitLength   int      `json:"bitLength,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
	ExpiresAt   *int64   `json:"expiresAt"` // null for non-expiring keys
	Identities  []string `json:"identities"`
}
