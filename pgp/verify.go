package pgp

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/keymail/go-keymail-server/types"
)

const (
	armorHeaderSignature = "-----BEGIN PGP SIGNATURE-----"
	armorHeaderClearsign = "-----BEGIN PGP SIGNED MESSAGE-----"
)

// Verify checks that signatureArmor is a valid signature over message made by
// the key in publicKeyArmor. Both detached armored signatures and clearsigned
// messages are accepted. A bad or foreign signature reports false without an
// error; errors are reserved for unusable inputs.
func Verify(message string, signatureArmor string, publicKeyArmor string) (bool, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(publicKeyArmor))
	if err != nil {
		return false, fmt.Errorf("%w: %s", types.ErrKeyParse, err)
	}

	trimmed := strings.TrimSpace(signatureArmor)
	switch {
	case strings.HasPrefix(trimmed, armorHeaderSignature):
		_, err = openpgp.CheckArmoredDetachedSignature(keyring, strings.NewReader(message), strings.NewReader(trimmed), nil)
		if err != nil {
			return false, nil
		}
		return true, nil
	case strings.HasPrefix(trimmed, armorHeaderClearsign):
		block, _ := clearsign.Decode([]byte(trimmed))
		if block == nil {
			return false, nil
		}
		// the signed body must match the challenge exactly, otherwise a
		// valid signature over unrelated text would pass
		if strings.TrimSpace(string(block.Plaintext)) != strings.TrimSpace(message) {
			return false, nil
		}
		_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
		if err != nil {
			return false, nil
		}
		return true, nil
	default:
		// unrecognized formats are just bad signatures, same as a failed check
		return false, nil
	}
}

// IssuerKeyID extracts the issuer key id from an armored detached signature
// or clearsigned message. The id is informational only, it is attacker
// controlled and must never select the verification key. Returns the empty
// string when no issuer packet is present.
func IssuerKeyID(signatureArmor string) string {
	trimmed := strings.TrimSpace(signatureArmor)
	var body io.Reader
	if strings.HasPrefix(trimmed, armorHeaderClearsign) {
		block, _ := clearsign.Decode([]byte(trimmed))
		if block == nil {
			return ""
		}
		body = block.ArmoredSignature.Body
	} else {
		decoded, err := decodeArmor(trimmed)
		if err != nil {
			return ""
		}
		body = decoded
	}
	return issuerFromSignaturePackets(body)
}

func decodeArmor(armored string) (io.Reader, error) {
	block, err := armor.Decode(strings.NewReader(armored))
	if err != nil {
		return nil, err
	}
	return block.Body, nil
}

func issuerFromSignaturePackets(body io.Reader) string {
	reader := packet.NewReader(body)
	for {
		pkt, err := reader.Next()
		if err != nil {
			return ""
		}
		sig, ok := pkt.(*packet.Signature)
		if !ok {
			continue
		}
		if sig.IssuerKeyId != nil {
			return fmt.Sprintf("%016X", *sig.IssuerKeyId)
		}
		return ""
	}
}
