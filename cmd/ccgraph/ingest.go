package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/contribconnect/contribgraph/internal/config"
	"github.com/contribconnect/contribgraph/internal/githubapi"
	"github.com/contribconnect/contribgraph/internal/graph"
	"github.com/contribconnect/contribgraph/internal/ingest"
	"github.com/contribconnect/contribgraph/internal/query"
)

var (
	ingestMaxPages int
	ingestAll      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [org/repo]",
	Short: "Harvest GitHub activity into the graph",
	Long: `Fetch contributors, pull requests, issues, and labels for the given
repository (or every enabled registered repository with --all) and write
them into the graph. Runs are idempotent and resume from checkpoints, so
re-running after an interruption repeats no completed work.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestMaxPages, "max-pages", 0, "cap pages fetched per entity sequence (0 = unlimited)")
	ingestCmd.Flags().BoolVar(&ingestAll, "all", false, "ingest every enabled registered repository")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if !ingestAll && len(args) != 1 {
		return fmt.Errorf("either name one org/repo or pass --all")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, source, err := config.ResolveGitHubToken(cfg, config.NewKeyringManager(logger))
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("no GitHub token configured, run 'ccgraph login' or set GITHUB_TOKEN")
	}
	logger.WithField("source", source).Debug("github token resolved")

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	gov := githubapi.NewGovernor(cfg.GitHub.RateFloor, cfg.GitHub.HourlyQuota, logger)
	fetcher := githubapi.NewFetcher(githubapi.NewClient(token), gov, logger)
	writer := graph.NewBatchWriter(s.graph, logger)
	transformer := ingest.NewTransformer(ingest.NewBotFilter(cfg.GitHub.BotSuffixes...))

	caps := githubapi.Caps{
		MaxPages:    cfg.Ingest.MaxPages,
		MaxDuration: cfg.Ingest.MaxDuration,
	}
	if ingestMaxPages > 0 {
		caps.MaxPages = ingestMaxPages
	}

	orch := ingest.NewOrchestrator(fetcher, writer, s.checkpoints, s.registry, transformer, logger, caps, cfg.Ingest.Concurrency)

	var results []ingest.RunStats
	if ingestAll {
		results, err = orch.IngestAll(ctx)
	} else {
		org, repo, perr := splitRepoArg(args[0])
		if perr != nil {
			return perr
		}
		if rerr := s.registry.Add(ctx, org, repo, nil, 0); rerr != nil {
			return rerr
		}
		var stats ingest.RunStats
		stats, err = orch.IngestRepo(ctx, org, repo)
		results = []ingest.RunStats{stats}
	}

	for _, stats := range results {
		printRunStats(stats)
		if s.cache != nil {
			query.NewResultCache(s.cache, logger).InvalidateRepo(ctx, stats.RepoKey)
		}
	}
	return err
}

func printRunStats(stats ingest.RunStats) {
	fmt.Printf("%s: %d nodes, %d edges (%d pages", stats.RepoKey, stats.NodesWritten, stats.EdgesWritten, stats.PagesFetched)
	if stats.Partial {
		fmt.Printf(", partial")
	}
	fmt.Printf(")\n")
	if stats.RecordsSkipped > 0 {
		fmt.Printf("  skipped %d records\n", stats.RecordsSkipped)
	}
	for _, e := range stats.EntityErrors {
		fmt.Printf("  error: %s\n", e)
	}
}
