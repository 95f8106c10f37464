package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contribconnect/contribgraph/internal/ingest"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and reset ingestion checkpoints",
}

var allModes = []string{
	ingest.ModeContributors,
	ingest.ModePullRequests,
	ingest.ModeIssues,
	ingest.ModeLabels,
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <org/repo>",
	Short: "Show stored cursors for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, repo, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		repoKey := org + "/" + repo

		s, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		any := false
		for _, mode := range allModes {
			cursor, found, err := s.checkpoints.Load(repoKey, mode)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			any = true
			fmt.Printf("  %-14s next page %d (saved %s)\n", mode, cursor.Page, cursor.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		if !any {
			fmt.Printf("No checkpoints for %s\n", repoKey)
		}
		return nil
	},
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset <org/repo> [mode]",
	Short: "Reset cursors so the next run refetches from the start",
	Long: `Remove the stored cursors for a repository, or for a single entity
sequence (contributors, pull_requests, issues, labels). Graph data stays;
upserts make the refetch idempotent.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, repo, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		repoKey := org + "/" + repo

		modes := allModes
		if len(args) == 2 {
			modes = []string{args[1]}
		}

		s, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, mode := range modes {
			if err := s.checkpoints.Reset(repoKey, mode); err != nil {
				return err
			}
		}
		fmt.Printf("Reset %d checkpoint(s) for %s\n", len(modes), repoKey)
		return nil
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointResetCmd)
	rootCmd.AddCommand(checkpointCmd)
}
