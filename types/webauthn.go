package types

import (
	"github.com/go-webauthn/webauthn/webauthn"
)

type WebAuthnUserDB struct {
	BaseDocument `json:",inline"`
	Fingerprint  string                `json:"id"`          // maps to WebAuthnUser ID
	Name         string                `json:"name"`        // maps to WebAuthnUser Name (email)
	DisplayName  string                `json:"displayName"` // maps to WebAuthnUser DisplayName
	Credentials  []webauthn.Credential `json:"credentials"` // maps to WebAuthnUser Credentials
}

func MapWebAuthnUserToDB(user WebAuthnUser) WebAuthnUserDB {
	return WebAuthnUserDB{
		Fingerprint: string(user.ID),
		Name:        user.Name,
		DisplayName: user.DisplayName,
		Credentials: user.Credentials,
	}
}

func MapWebAuthnUserFromDB(user WebAuthnUserDB) *WebAuthnUser {
	return &WebAuthnUser{
		ID:          []byte(user.Fingerprint),
		Name:        user.Name,
		DisplayName: user.DisplayName,
		Credentials: user.Credentials,
	}
}

type WebAuthnUser struct {
	ID          []byte
	Name        string
	DisplayName string
	Credentials []webauthn.Credential
}

// Implementing the WebAuthnID method
func (u *WebAuthnUser) WebAuthnID() []byte {
	return u.ID
}

// Implementing the WebAuthnName method
func (u *WebAuthnUser) WebAuthnName() string {
	return u.Name
}

// Implementing the WebAuthnDisplayName method
func (u *WebAuthnUser) WebAuthnDisplayName() string {
	return u.DisplayName
}

// Implementing the WebAuthnCredentials method
func (u *WebAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.Credentials
}

// Implementing the WebAuthnIcon method
func (u *WebAuthnUser) WebAuthnIcon() string {
	return ""
}
