package repository

import (
	"fmt"

	"github.com/go-resty/resty/v2"
)

// CreateUserKeyIDIndex creates an index on the users database for the keyId
// field so admin tooling can look up an account from a bare key id
func CreateUserKeyIDIndex(userRepo Repository) error {
	dbName := User
	keyIDIndex := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []string{"keyId"},
		},
		"name": "user-keyId-index",
		"type": "json",
		"ddoc": "user-keyId-index",
	}
	c := userRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(keyIDIndex).Post(fmt.Sprintf("%s/%s", dbName, "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		return couchError(resp)
	}
	return nil
}

// CreateWebAuthNNameIndex creates an index on the webauthn_users database for
// searching by email
func CreateWebAuthNNameIndex(webauthnRepo Repository) error {
	dbName := WebAuthnUser
	nameIndex := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []string{"name"},
		},
		"name": "webauthn-user-index",
		"type": "json",
		"ddoc": "webauthn-user-index",
	}
	c := webauthnRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(nameIndex).Post(fmt.Sprintf("%s/%s", dbName, "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		return couchError(resp)
	}
	return nil
}

// CreateRefreshTokenFingerprintIndex indexes the refresh token ledger by the
// account fingerprint so all sessions of one account can be revoked together
func CreateRefreshTokenFingerprintIndex(tokenRepo Repository) error {
	dbName := RefreshToken
	fpIndex := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []string{"fingerprint"},
		},
		"name": "refresh-token-fingerprint-index",
		"type": "json",
		"ddoc": "refresh-token-fingerprint-index",
	}
	c := tokenRepo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(fpIndex).Post(fmt.Sprintf("%s/%s", dbName, "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		return couchError(resp)
	}
	return nil
}
