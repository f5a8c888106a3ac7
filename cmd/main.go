package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func check(e error) {
	if e != nil {
		fmt.Printf("%v\n", e.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "keymail",
	Short:   "Keymail is a PGP key based, passwordless webmail service",
	Long:    `Keymail is a PGP key based, passwordless webmail service. Accounts are identified by their OpenPGP key; there are no account passwords to remember or to leak.`,
	Version: "0.1.0",
	Run: func(cmd *cobra.Command, args []string) {
		// empty
	},
}

func main() {
	Execute()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
