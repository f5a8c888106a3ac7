package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var outputFile string

func init() {
	keysCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default is stdout)")
	rootCmd.AddCommand(keysCmd)
}

// keysCmd generates the server ed25519 signing keys used for session tokens
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate server ed25519 keys",
	Long:  "Generate the ed25519 key pair the server signs session tokens with",
	Run: func(cmd *cobra.Command, args []string) {
		_, private, err := ed25519.GenerateKey(rand.Reader)
		check(err)
		keysJson := map[string]interface{}{
			"type":       "keymail_server_keys_ed25519",
			"privateKey": base64.StdEncoding.EncodeToString(private),
			"created":    time.Now().UnixMilli(),
		}
		fileBytes, err := json.MarshalIndent(keysJson, "", "  ")
		check(err)
		if outputFile != "" {
			// fail if file already exists
			if _, err := os.Stat(outputFile); !errors.Is(err, os.ErrNotExist) {
				fmt.Printf("File already exists: %s\n", outputFile)
				os.Exit(1)
			}
			err = os.WriteFile(outputFile, fileBytes, 0600)
			check(err)
			fmt.Printf("Output file: %s\n", outputFile)
		} else {
			fmt.Printf("\n%s\n", string(fileBytes))
		}
	},
}
