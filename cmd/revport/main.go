package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "revport",
	Short: "Marketing content review portal",
	Long: `revport runs a marketing content review portal for agency clients:
AI-drafted content goes into a pending queue, clients approve or reject it,
and SMS reminders escalate when reviews sit too long.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.Version = version

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(remindCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(clientsCmd)
	rootCmd.AddCommand(smsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
