package pgp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/tj/assert"
)

func testEntity(t *testing.T, name, email string) (*openpgp.Entity, string) {
	t.Helper()
	pair, err := GenerateKeyPair(name, email, GenerateOptions{})
	assert.NoError(t, err)
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(pair.PrivateKeyArmor))
	assert.NoError(t, err)
	assert.Len(t, entities, 1)
	return entities[0], pair.PublicKeyArmor
}

func detachSign(t *testing.T, entity *openpgp.Entity, message string) string {
	t.Helper()
	var buf bytes.Buffer
	err := openpgp.ArmoredDetachSignText(&buf, entity, strings.NewReader(message), nil)
	assert.NoError(t, err)
	return buf.String()
}

func TestVerifyDetachedSignature(t *testing.T) {
	entity, pubArmor := testEntity(t, "Sig Tester", "sig@example.com")
	message := "f3a9c1.1735689600000"

	sig := detachSign(t, entity, message)
	ok, err := Verify(message, sig, pubArmor)
	assert.NoError(t, err)
	assert.True(t, ok)

	// same signature over a different challenge must not verify
	ok, err = Verify("other.1735689600001", sig, pubArmor)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyWrongKey(t *testing.T) {
	signer, _ := testEntity(t, "Signer", "signer@example.com")
	_, otherPub := testEntity(t, "Other", "other@example.com")
	message := "challenge-value"

	sig := detachSign(t, signer, message)
	ok, err := Verify(message, sig, otherPub)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyClearsigned(t *testing.T) {
	entity, pubArmor := testEntity(t, "Clear Tester", "clear@example.com")
	message := "9a7b3c.1735689600000"

	var buf bytes.Buffer
	w, err := clearsign.Encode(&buf, entity.PrivateKey, nil)
	assert.NoError(t, err)
	_, err = w.Write([]byte(message))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	ok, err := Verify(message, buf.String(), pubArmor)
	assert.NoError(t, err)
	assert.True(t, ok)

	// clearsigned body differing from the challenge must not verify
	ok, err = Verify("something-else", buf.String(), pubArmor)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMalformedSignature(t *testing.T) {
	_, pubArmor := testEntity(t, "Mal Tester", "mal@example.com")

	ok, err := Verify("challenge", "definitely not a signature", pubArmor)
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = Verify("challenge", "-----BEGIN PGP SIGNATURE-----\n\naGVsbG8=\n-----END PGP SIGNATURE-----", pubArmor)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyBadPublicKey(t *testing.T) {
	entity, _ := testEntity(t, "Key Tester", "key@example.com")
	sig := detachSign(t, entity, "challenge")

	_, err := Verify("challenge", sig, "not a key")
	assert.Error(t, err)
}

func TestIssuerKeyID(t *testing.T) {
	entity, _ := testEntity(t, "Issuer Tester", "issuer@example.com")
	sig := detachSign(t, entity, "challenge")

	id := IssuerKeyID(sig)
	assert.Equal(t, entity.PrimaryKey.KeyIdString(), id)

	assert.Empty(t, IssuerKeyID("garbage"))
}
