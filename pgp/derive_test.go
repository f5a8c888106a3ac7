package pgp

import (
	"regexp"
	"testing"

	"github.com/tj/assert"
)

var mailSecretPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

func TestDeriveMailSecretDeterministic(t *testing.T) {
	material := []byte("private key material")
	salt := []byte("per-deployment salt")

	first, err := DeriveMailSecret(material, salt, "v1", "alice@example.com")
	assert.NoError(t, err)
	second, err := DeriveMailSecret(material, salt, "v1", "alice@example.com")
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, MailSecretLength)
	assert.True(t, mailSecretPattern.MatchString(first))
}

func TestDeriveMailSecretInputsRotateSecret(t *testing.T) {
	material := []byte("private key material")
	salt := []byte("salt")

	base, err := DeriveMailSecret(material, salt, "v1", "alice@example.com")
	assert.NoError(t, err)

	otherVersion, err := DeriveMailSecret(material, salt, "v2", "alice@example.com")
	assert.NoError(t, err)
	assert.NotEqual(t, base, otherVersion)

	otherEmail, err := DeriveMailSecret(material, salt, "v1", "bob@example.com")
	assert.NoError(t, err)
	assert.NotEqual(t, base, otherEmail)

	otherMaterial, err := DeriveMailSecret([]byte("different material"), salt, "v1", "alice@example.com")
	assert.NoError(t, err)
	assert.NotEqual(t, base, otherMaterial)
}

func TestDeriveMailSecretCaseInsensitiveEmail(t *testing.T) {
	material := []byte("material")
	lower, err := DeriveMailSecret(material, nil, "v1", "alice@example.com")
	assert.NoError(t, err)
	upper, err := DeriveMailSecret(material, nil, "v1", "Alice@Example.COM")
	assert.NoError(t, err)
	assert.Equal(t, lower, upper)
}

func TestDeriveMailSecretEmptyMaterial(t *testing.T) {
	_, err := DeriveMailSecret(nil, []byte("salt"), "v1", "alice@example.com")
	assert.Error(t, err)
}

func TestDeriveFromPasswordHash(t *testing.T) {
	hash := []byte("stored password hash")

	first, err := DeriveFromPasswordHash(hash, "v1", "alice@example.com")
	assert.NoError(t, err)
	second, err := DeriveFromPasswordHash(hash, "v1", "alice@example.com")
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, MailSecretLength)
	assert.True(t, mailSecretPattern.MatchString(first))

	other, err := DeriveFromPasswordHash([]byte("other hash"), "v1", "alice@example.com")
	assert.NoError(t, err)
	assert.NotEqual(t, first, other)

	_, err = DeriveFromPasswordHash(nil, "v1", "alice@example.com")
	assert.Error(t, err)
}
