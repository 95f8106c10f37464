package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/contribconnect/contribgraph/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a GitHub token in the OS keychain",
	Long: `Store a GitHub personal access token securely in the OS keychain.

The token needs repo read scope. Precedence at runtime is the GITHUB_TOKEN
environment variable, then the config file, then the keychain; headless
systems (CI) should use the environment variable instead.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored GitHub token",
	RunE: func(cmd *cobra.Command, args []string) error {
		km := config.NewKeyringManager(logger)
		if err := km.DeleteGitHubToken(); err != nil {
			return err
		}
		fmt.Println("Token removed from keychain")
		return nil
	},
}

func runLogin(cmd *cobra.Command, args []string) error {
	km := config.NewKeyringManager(logger)
	if !km.IsAvailable() {
		return fmt.Errorf("OS keychain unavailable, set GITHUB_TOKEN instead")
	}

	if existing, err := km.GetGitHubToken(); err == nil && existing != "" {
		fmt.Printf("A token is already stored: %s\n", config.MaskToken(existing))
		fmt.Print("Replace it? [y/N]: ")
		var answer string
		fmt.Scanln(&answer)
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			return nil
		}
	}

	fmt.Print("GitHub token (input hidden): ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return fmt.Errorf("no token entered")
	}

	if err := km.SetGitHubToken(token); err != nil {
		return err
	}
	fmt.Printf("Stored %s in the OS keychain\n", config.MaskToken(token))
	return nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
