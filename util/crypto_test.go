package util

import (
	"encoding/base64"
	"testing"

	"github.com/keymail/go-keymail-server/global"
	"github.com/tj/assert"
)

func TestBlindEmailDeterministic(t *testing.T) {
	global.Conf.Auth.EmailSaltHex = "aabbccdd00112233aabbccdd00112233"

	first, err := BlindEmail("alice@keymail.io")
	assert.NoError(t, err)
	second, err := BlindEmail("alice@keymail.io")
	assert.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := BlindEmail("bob@keymail.io")
	assert.NoError(t, err)
	assert.NotEqual(t, first, other)

	raw, err := base64.URLEncoding.DecodeString(first)
	assert.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestBlindEmailSaltRotation(t *testing.T) {
	global.Conf.Auth.EmailSaltHex = "00000000000000000000000000000000"
	before, err := BlindEmail("alice@keymail.io")
	assert.NoError(t, err)

	global.Conf.Auth.EmailSaltHex = "ffffffffffffffffffffffffffffffff"
	after, err := BlindEmail("alice@keymail.io")
	assert.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestBlindEmailBadSalt(t *testing.T) {
	global.Conf.Auth.EmailSaltHex = "not-hex"
	_, err := BlindEmail("alice@keymail.io")
	assert.Error(t, err)
}

func TestSha256Hex(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Sha256Hex([]byte("hello")))
}
