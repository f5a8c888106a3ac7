package pgp

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/keymail/go-keymail-server/types"
)

// KeyPair holds the armored output of a key generation run. The private key
// armor is encrypted with the caller's passphrase and never persisted
// server side.
type KeyPair struct {
	PublicKeyArmor  string
	PrivateKeyArmor string
	KeyID           string
	Fingerprint     string
}

// KeyMetadata describes a parsed public key without retaining any key material
// beyond the armor the caller already holds.
type KeyMetadata struct {
	KeyID       string
	Fingerprint string
	Algorithm   string
	BitLength   uint16
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Identities  []string
}

// GenerateOptions control key generation. Zero values fall back to
// Curve25519 EdDSA keys with no expiry.
type GenerateOptions struct {
	Passphrase []byte
	Curve      packet.Curve
	Expiry     time.Duration
}

var algorithmNames = map[packet.PublicKeyAlgorithm]string{
	packet.PubKeyAlgoRSA:   "RSA",
	packet.PubKeyAlgoECDSA: "ECDSA",
	packet.PubKeyAlgoEdDSA: "EdDSA",
	packet.PubKeyAlgoDSA:   "DSA",
}

// GenerateKeyPair creates a fresh OpenPGP entity for the given identity and
// returns both halves armored. The private half is encrypted with the
// passphrase when one is supplied.
func GenerateKeyPair(name, email string, opts GenerateOptions) (*KeyPair, error) {
	curve := opts.Curve
	if curve == "" {
		curve = packet.Curve25519
	}
	cfg := &packet.Config{
		Algorithm: packet.PubKeyAlgoEdDSA,
		Curve:     curve,
	}
	if opts.Expiry > 0 {
		cfg.KeyLifetimeSecs = uint32(opts.Expiry / time.Second)
	}
	entity, err := openpgp.NewEntity(name, "", email, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyGeneration, err)
	}

	var pubBuf bytes.Buffer
	pubArmor, err := armor.Encode(&pubBuf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyGeneration, err)
	}
	if err := entity.Serialize(pubArmor); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyGeneration, err)
	}
	if err := pubArmor.Close(); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyGeneration, err)
	}

	if len(opts.Passphrase) > 0 {
		if err := entity.PrivateKey.Encrypt(opts.Passphrase); err != nil {
			return nil, fmt.Errorf("%w: %s", types.ErrKeyGeneration, err)
		}
		for _, sub := range entity.Subkeys {
			if sub.PrivateKey == nil {
				continue
			}
			if err := sub.PrivateKey.Encrypt(opts.Passphrase); err != nil {
				return nil, fmt.Errorf("%w: %s", types.ErrKeyGeneration, err)
			}
		}
	}

	var privBuf bytes.Buffer
	privArmor, err := armor.Encode(&privBuf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyGeneration, err)
	}
	// NewEntity already self-signed the identity and subkeys; re-signing here
	// would fail once the primary key is encrypted above.
	if err := entity.SerializePrivateWithoutSigning(privArmor, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyGeneration, err)
	}
	if err := privArmor.Close(); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyGeneration, err)
	}

	return &KeyPair{
		PublicKeyArmor:  pubBuf.String(),
		PrivateKeyArmor: privBuf.String(),
		KeyID:           entity.PrimaryKey.KeyIdString(),
		Fingerprint:     hex.EncodeToString(entity.PrimaryKey.Fingerprint),
	}, nil
}

// ParsePublicKey reads a single armored public key and extracts its metadata.
// Armors holding more or less than exactly one key are rejected.
func ParsePublicKey(armored string) (*KeyMetadata, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyParse, err)
	}
	if len(entities) != 1 {
		return nil, fmt.Errorf("%w: expected a single key, got %d", types.ErrKeyParse, len(entities))
	}
	entity := entities[0]
	primary := entity.PrimaryKey

	bitLen, err := primary.BitLength()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrKeyParse, err)
	}

	algo, ok := algorithmNames[primary.PubKeyAlgo]
	if !ok {
		algo = fmt.Sprintf("unknown(%d)", primary.PubKeyAlgo)
	}

	meta := &KeyMetadata{
		KeyID:       primary.KeyIdString(),
		Fingerprint: hex.EncodeToString(primary.Fingerprint),
		Algorithm:   algo,
		BitLength:   bitLen,
		CreatedAt:   primary.CreationTime,
	}
	for name, identity := range entity.Identities {
		meta.Identities = append(meta.Identities, name)
		if identity.SelfSignature == nil || identity.SelfSignature.KeyLifetimeSecs == nil {
			continue
		}
		if secs := *identity.SelfSignature.KeyLifetimeSecs; secs > 0 {
			expires := primary.CreationTime.Add(time.Duration(secs) * time.Second)
			meta.ExpiresAt = &expires
		}
	}
	return meta, nil
}
