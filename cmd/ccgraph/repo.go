package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var repoTopics []string

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage the repository registry",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <org/repo>",
	Short: "Register a repository for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, repo, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}

		s, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.registry.Add(cmd.Context(), org, repo, repoTopics, 0); err != nil {
			return err
		}
		fmt.Printf("Registered %s/%s\n", org, repo)
		return nil
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:   "remove <org/repo>",
	Short: "Remove a repository from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, repo, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}

		s, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.registry.Remove(cmd.Context(), org, repo); err != nil {
			return err
		}
		fmt.Printf("Removed %s/%s (graph data retained)\n", org, repo)
		return nil
	},
}

var repoEnableCmd = &cobra.Command{
	Use:   "enable <org/repo>",
	Short: "Enable a repository for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRepoEnabled(cmd, args[0], true) },
}

var repoDisableCmd = &cobra.Command{
	Use:   "disable <org/repo>",
	Short: "Disable a repository without forgetting its history",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRepoEnabled(cmd, args[0], false) },
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		repos, err := s.registry.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			fmt.Println("No repositories registered. Run: ccgraph repo add <org/repo>")
			return nil
		}

		for _, r := range repos {
			state := "enabled"
			if !r.Enabled {
				state = "disabled"
			}
			line := fmt.Sprintf("%-40s %s", r.Key(), state)
			if r.LastRunStatus != "" {
				line += fmt.Sprintf("  last run: %s", r.LastRunStatus)
				if r.LastRunAt != nil {
					line += " at " + r.LastRunAt.Format("2006-01-02 15:04")
				}
			}
			if r.LastError != "" {
				line += "\n" + strings.Repeat(" ", 4) + r.LastError
			}
			fmt.Println(line)
		}
		return nil
	},
}

func setRepoEnabled(cmd *cobra.Command, arg string, enabled bool) error {
	org, repo, err := splitRepoArg(arg)
	if err != nil {
		return err
	}

	s, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.registry.SetEnabled(cmd.Context(), org, repo, enabled); err != nil {
		return err
	}
	if enabled {
		fmt.Printf("Enabled %s/%s\n", org, repo)
	} else {
		fmt.Printf("Disabled %s/%s\n", org, repo)
	}
	return nil
}

func init() {
	repoAddCmd.Flags().StringSliceVar(&repoTopics, "topic", nil, "topic tags to record with the repository")
	repoCmd.AddCommand(repoAddCmd, repoRemoveCmd, repoEnableCmd, repoDisableCmd, repoListCmd)
	rootCmd.AddCommand(repoCmd)
}
