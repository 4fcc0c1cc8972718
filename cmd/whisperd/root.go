package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "whisperd",
	Short:        "End-to-end encrypted messaging server",
	Long:         "whisperd relays end-to-end encrypted messages, prekey bundles and presence between clients. It never sees plaintext.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
