package pgp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/keymail/go-keymail-server/types"
	"golang.org/x/crypto/hkdf"
)

// MailSecretLength is the length of every derived mail password.
const MailSecretLength = 28

// DeriveMailSecret derives the deterministic IMAP/SMTP password for an
// account from private key material. The same material, salt, version and
// email always yield the same secret, so rotating any of them rotates the
// password.
func DeriveMailSecret(material []byte, salt []byte, version string, email string) (string, error) {
	if len(material) == 0 {
		return "", fmt.Errorf("%w: no key material", types.ErrDerivationUnavailable)
	}
	info := []byte("keymail-mail-secret|" + version + "|" + strings.ToLower(email))
	reader := hkdf.New(sha256.New, material, salt, info)
	// base32 gives ~5 bits per character, read enough for the full secret
	raw := make([]byte, MailSecretLength)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", fmt.Errorf("%w: %s", types.ErrDerivationUnavailable, err)
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return encoded[:MailSecretLength], nil
}

// DeriveFromPasswordHash derives the mail password for accounts that
// authenticate with a stored password hash instead of a key. The hash keys an
// HMAC so the mail secret never reveals the hash itself.
func DeriveFromPasswordHash(passwordHash []byte, version string, email string) (string, error) {
	if len(passwordHash) == 0 {
		return "", fmt.Errorf("%w: no password hash", types.ErrDerivationUnavailable)
	}
	mac := hmac.New(sha256.New, passwordHash)
	mac.Write([]byte("keymail-mail-secret|" + version + "|" + strings.ToLower(email)))
	sum := mac.Sum(nil)
	cleaned := stripMailUnsafe(base64.StdEncoding.EncodeToString(sum))
	for round := byte(0); len(cleaned) < MailSecretLength; round++ {
		mac.Write([]byte{round})
		cleaned += stripMailUnsafe(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	}
	return cleaned[:MailSecretLength], nil
}

// stripMailUnsafe drops characters some mail clients mishandle in passwords
func stripMailUnsafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '+', '/', '=':
			return -1
		}
		return r
	}, s)
}
