package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/keymail/go-keymail-server/pgp"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	pgpName     string
	pgpEmail    string
	pgpOutput   string
	secretKey   string
	secretEmail string
	secretSalt  string
	secretVer   string
)

func init() {
	genKeyCmd.Flags().StringVarP(&pgpName, "name", "n", "", "name bound to the key identity")
	genKeyCmd.Flags().StringVarP(&pgpEmail, "email", "e", "", "email bound to the key identity")
	genKeyCmd.Flags().StringVarP(&pgpOutput, "output", "o", "keymail", "output file prefix")
	genKeyCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(genKeyCmd)

	mailSecretCmd.Flags().StringVarP(&secretKey, "key", "k", "", "armored private key file")
	mailSecretCmd.Flags().StringVarP(&secretEmail, "email", "e", "", "account email")
	mailSecretCmd.Flags().StringVarP(&secretSalt, "salt", "s", "", "hex encoded derivation salt")
	mailSecretCmd.Flags().StringVarP(&secretVer, "version", "v", "1", "derivation version")
	mailSecretCmd.MarkFlagRequired("key")
	mailSecretCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(mailSecretCmd)
}

func readPassphrase(prompt string) []byte {
	fmt.Print(prompt)
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	check(err)
	return pass
}

// genKeyCmd creates a client side OpenPGP key pair. The private key armor is
// encrypted with the passphrase before it touches disk.
var genKeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a PGP key pair",
	Long:  "Generate a Curve25519 PGP key pair for registering with a keymail server",
	Run: func(cmd *cobra.Command, args []string) {
		pass := readPassphrase("Passphrase: ")
		again := readPassphrase("Repeat passphrase: ")
		if !bytes.Equal(pass, again) {
			fmt.Println("Passphrases do not match")
			os.Exit(1)
		}
		pair, err := pgp.GenerateKeyPair(pgpName, pgpEmail, pgp.GenerateOptions{Passphrase: pass})
		check(err)

		pubFile := pgpOutput + ".pub.asc"
		privFile := pgpOutput + ".key.asc"
		check(os.WriteFile(pubFile, []byte(pair.PublicKeyArmor), 0644))
		check(os.WriteFile(privFile, []byte(pair.PrivateKeyArmor), 0600))
		fmt.Printf("Key ID:      %s\n", pair.KeyID)
		fmt.Printf("Fingerprint: %s\n", pair.Fingerprint)
		fmt.Printf("Public key:  %s\n", pubFile)
		fmt.Printf("Private key: %s\n", privFile)
	},
}

// mailSecretCmd derives the IMAP/SMTP password from a private key, the same
// way a mail client plugin would.
var mailSecretCmd = &cobra.Command{
	Use:   "mailsecret",
	Short: "Derive the mail password from a private key",
	Run: func(cmd *cobra.Command, args []string) {
		armored, err := os.ReadFile(secretKey)
		check(err)
		entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(string(armored)))
		check(err)
		if len(entities) != 1 {
			fmt.Printf("Expected a single key, got %d\n", len(entities))
			os.Exit(1)
		}
		priv := entities[0].PrivateKey
		if priv == nil {
			fmt.Println("File holds no private key")
			os.Exit(1)
		}
		if priv.Encrypted {
			pass := readPassphrase("Passphrase: ")
			check(priv.Decrypt(pass))
		}

		// key packet bytes are stable for a given key, so the derived
		// secret is too
		var material bytes.Buffer
		check(priv.Serialize(&material))

		var salt []byte
		if secretSalt != "" {
			salt, err = hex.DecodeString(secretSalt)
			check(err)
		}
		secret, err := pgp.DeriveMailSecret(material.Bytes(), salt, secretVer, secretEmail)
		check(err)
		fmt.Println(secret)
	},
}
