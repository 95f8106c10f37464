package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/contribconnect/contribgraph/internal/query"
)

var (
	queryJSON  bool
	queryLimit int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask the graph about ownership and history",
}

var ownersCmd = &cobra.Command{
	Use:   "owners <org/repo> <path>",
	Short: "Rank the people who authored changes to a file",
	Args:  cobra.ExactArgs(2),
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

		result, err := s.queryEngine(cfg).FindOwners(cmd.Context(), org+"/"+repo, args[1])
		if err != nil {
			return err
		}
		if queryJSON {
			return printJSON(result)
		}

		if len(result.Owners) == 0 {
			fmt.Printf("No authorship history for %s\n", args[1])
			return nil
		}
		fmt.Printf("Owners of %s:\n", args[1])
		printContributors(result.Owners)
		printQueryFooter(result.Truncated, result.ExecutionTime.String())
		return nil
	},
}

var reviewersCmd = &cobra.Command{
	Use:   "reviewers <org/repo> <path>",
	Short: "Rank the people who reviewed changes to a file",
	Args:  cobra.ExactArgs(2),
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

		result, err := s.queryEngine(cfg).FindReviewers(cmd.Context(), org+"/"+repo, args[1])
		if err != nil {
			return err
		}
		if queryJSON {
			return printJSON(result)
		}

		if len(result.Reviewers) == 0 {
			fmt.Printf("No review or authorship history for %s\n", args[1])
			return nil
		}
		if result.Degraded {
			fmt.Printf("No review history for %s, falling back to authors:\n", args[1])
		} else {
			fmt.Printf("Reviewers for %s:\n", args[1])
		}
		printContributors(result.Reviewers)
		printQueryFooter(result.Truncated, result.ExecutionTime.String())
		return nil
	},
}

var relatedCmd = &cobra.Command{
	Use:   "related <org/repo> <issue-number>",
	Short: "Find issues sharing labels with the given issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, repo, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		number, err := strconv.Atoi(args[1])
		if err != nil || number <= 0 {
			return fmt.Errorf("invalid issue number %q", args[1])
		}

		s, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		limit := queryLimit
		if limit <= 0 {
			limit = cfg.Query.Limit
		}

		result, err := s.queryEngine(cfg).FindRelatedIssues(cmd.Context(), org+"/"+repo, number, limit)
		if err != nil {
			return err
		}
		if queryJSON {
			return printJSON(result)
		}

		if len(result.Related) == 0 {
			fmt.Printf("No related issues found for #%d\n", number)
			return nil
		}
		fmt.Printf("Issues related to #%d:\n", number)
		for _, ri := range result.Related {
			fmt.Printf("  #%-6d %-8s shares %d label(s): %v\n", ri.Number, ri.State, len(ri.SharedLabels), ri.SharedLabels)
			if ri.Title != "" {
				fmt.Printf("          %s\n", ri.Title)
			}
		}
		printQueryFooter(result.Truncated, result.ExecutionTime.String())
		return nil
	},
}

func printContributors(contributors []query.Contributor) {
	for i, c := range contributors {
		line := fmt.Sprintf("  %2d. %-24s %d change(s)", i+1, c.Login, c.Count)
		if !c.LastActivity.IsZero() {
			line += ", last active " + c.LastActivity.Format("2006-01-02")
		}
		fmt.Println(line)
	}
}

func printQueryFooter(truncated bool, took string) {
	if truncated {
		fmt.Println("  (result truncated by query timeout)")
	}
	logger.WithField("took", took).Debug("query finished")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	queryCmd.PersistentFlags().BoolVar(&queryJSON, "json", false, "emit JSON instead of text")
	relatedCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum related issues to return")
	queryCmd.AddCommand(ownersCmd, reviewersCmd, relatedCmd)
	rootCmd.AddCommand(queryCmd)
}
