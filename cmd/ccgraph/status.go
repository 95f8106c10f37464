package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show graph size and registry state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		nodes, err := s.graph.CountNodes(ctx)
		if err != nil {
			return err
		}
		edges, err := s.graph.CountEdges(ctx)
		if err != nil {
			return err
		}
		repos, err := s.registry.List(ctx)
		if err != nil {
			return err
		}

		enabled := 0
		for _, r := range repos {
			if r.Enabled {
				enabled++
			}
		}

		fmt.Printf("Storage:       %s\n", cfg.Storage.Type)
		fmt.Printf("Graph:         %d nodes, %d edges\n", nodes, edges)
		fmt.Printf("Repositories:  %d registered, %d enabled\n", len(repos), enabled)
		if s.cache != nil {
			if err := s.cache.HealthCheck(ctx); err == nil {
				fmt.Printf("Cache:         redis at %s\n", cfg.Cache.Addr)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
