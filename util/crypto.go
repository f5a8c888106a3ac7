package util

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/keymail/go-keymail-server/global"
	"golang.org/x/crypto/scrypt"
)

var (
	scryptN   = 32768 // N = CPU/memory cost parameter
	scryptR   = 8     // r and p must satisfy r * p < 2^30
	scryptP   = 1
	scryptLen = 32 // 32 bytes long
)

// BlindEmail derives the scrypt lookup key for an email address so that the
// mapping database never holds addresses in clear
func BlindEmail(email string) (string, error) {
	salt := []byte(email)
	if global.Conf.Auth.EmailSaltHex != "" {
		decoded, err := hex.DecodeString(global.Conf.Auth.EmailSaltHex)
		if err != nil {
			return "", err
		}
		salt = decoded
	}
	dk, err := scrypt.Key([]byte(email), salt, scryptN, scryptR, scryptP, scryptLen)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(dk), nil
}

// Sha256Hex returns the sha256 hash of the data as a hex string
func Sha256Hex(data []byte) string {
	hash := sha256.New()
	hash.Write(data)
	sum := hash.Sum(nil)
	return hex.EncodeToString(sum)
}
