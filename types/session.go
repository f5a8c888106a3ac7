package types

// Token type discriminator carried in the token claims. A refresh token is
// only good for minting a new access token, never for resource access.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims is the payload of a session token
type TokenClaims struct {
	Subject   string `json:"sub"` // key fingerprint
	Email     string `json:"email"`
	KeyID     string `json:"kid"`
	TokenType string `json:"type"`
	IssuedAt  int64  `json:"iat"`
	Expires   int64  `json:"exp"`
	TokenID   string `json:"jti,omitempty"` // refresh tokens only
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
}

// RefreshTokenRecord is the server-side ledger row for a refresh token,
// keyed by the token-id (jti) so revocation never stores the token itself
type RefreshTokenRecord struct {
	BaseDocument `json:",inline"`
	TokenID      string `json:"tokenId"`
	Fingerprint  string `json:"fingerprint"`
	Email        string `json:"email"`
	Created      int64  `json:"created"`
	Expires      int64  `json:"expires"`
}
