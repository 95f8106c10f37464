package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/contribconnect/contribgraph/internal/checkpoint"
	"github.com/contribconnect/contribgraph/internal/githubapi"
	"github.com/contribconnect/contribgraph/internal/graph"
	"github.com/contribconnect/contribgraph/internal/registry"
)

// Checkpoint modes, one independent cursor per entity sequence.
const (
	ModeContributors = "contributors"
	ModePullRequests = "pull_requests"
	ModeIssues       = "issues"
	ModeLabels       = "labels"
)

// DefaultConcurrency bounds how many repositories ingest at once. All
// workers share one Governor, so the quota stays respected regardless.
const DefaultConcurrency = 3

// RunStats summarizes one repository's ingestion run.
type RunStats struct {
	RunID          string
	RepoKey        string
	NodesWritten   int
	EdgesWritten   int
	RecordsSkipped int
	PagesFetched   int
	Partial        bool
	EntityErrors   []string
}

func (s RunStats) errMsg() string {
	return strings.Join(s.EntityErrors, "; ")
}

// Orchestrator drives full ingestion runs: fetch, transform, write,
// checkpoint, in that order per page. Entity sequences run in a fixed
// order (repository, contributors, pull requests, issues, labels) so node
// endpoints tend to exist before the edges that reference them; the store
// tolerates either order.
type Orchestrator struct {
	fetcher     *githubapi.Fetcher
	writer      *graph.BatchWriter
	checkpoints *checkpoint.Store
	registry    *registry.Registry
	transform   *Transformer
	logger      *logrus.Logger
	caps        githubapi.Caps
	concurrency int
}

// NewOrchestrator wires an orchestrator. A zero Caps means unbounded runs.
func NewOrchestrator(fetcher *githubapi.Fetcher, writer *graph.BatchWriter, checkpoints *checkpoint.Store, reg *registry.Registry, transform *Transformer, logger *logrus.Logger, caps githubapi.Caps, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		fetcher:     fetcher,
		writer:      writer,
		checkpoints: checkpoints,
		registry:    reg,
		transform:   transform,
		logger:      logger,
		caps:        caps,
		concurrency: concurrency,
	}
}

// IngestRepo runs one full ingestion pass for org/repo. Failures in one
// entity sequence are recorded and the run moves on to the next sequence;
// only credential failures and context cancellation abort the run. The
// run outcome lands in the registry either way.
func (o *Orchestrator) IngestRepo(ctx context.Context, org, repo string) (RunStats, error) {
	repoKey := org + "/" + repo
	stats := RunStats{
		RunID:   uuid.New().String(),
		RepoKey: repoKey,
	}

	log := o.logger.WithFields(logrus.Fields{"repo": repoKey, "run_id": stats.RunID})
	log.Info("ingestion run starting")

	if err := o.registry.MarkRunning(ctx, org, repo, stats.RunID); err != nil {
		return stats, fmt.Errorf("mark run started: %w", err)
	}

	runErr := o.ingestEntities(ctx, org, repo, &stats, log)

	errMsg := stats.errMsg()
	if runErr != nil {
		errMsg = runErr.Error()
	}
	// Record the outcome on a fresh context; the run context may already
	// be cancelled.
	if err := o.registry.MarkCompleted(context.WithoutCancel(ctx), org, repo, stats.RunID, errMsg); err != nil {
		log.WithError(err).Error("failed to record run outcome")
	}

	log.WithFields(logrus.Fields{
		"nodes":   stats.NodesWritten,
		"edges":   stats.EdgesWritten,
		"pages":   stats.PagesFetched,
		"partial": stats.Partial,
		"errors":  len(stats.EntityErrors),
	}).Info("ingestion run finished")

	return stats, runErr
}

func (o *Orchestrator) ingestEntities(ctx context.Context, org, repo string, stats *RunStats, log *logrus.Entry) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"repository", func(ctx context.Context) error { return o.ingestRepository(ctx, org, repo, stats) }},
		{ModeContributors, func(ctx context.Context) error { return o.ingestContributors(ctx, org, repo, stats) }},
		{ModePullRequests, func(ctx context.Context) error { return o.ingestPullRequests(ctx, org, repo, stats) }},
		{ModeIssues, func(ctx context.Context) error { return o.ingestIssues(ctx, org, repo, stats) }},
		{ModeLabels, func(ctx context.Context) error { return o.ingestLabels(ctx, org, repo, stats) }},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := step.run(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, githubapi.ErrBadCredentials) || ctx.Err() != nil {
			return err
		}

		// Transient entity failure: the unadvanced checkpoint resumes this
		// sequence on the next run, the rest of the run proceeds.
		log.WithError(err).WithField("entity", step.name).Warn("entity sequence failed, continuing")
		stats.EntityErrors = append(stats.EntityErrors, fmt.Sprintf("%s: %v", step.name, err))
	}

	return nil
}

func (o *Orchestrator) ingestRepository(ctx context.Context, org, repo string, stats *RunStats) error {
	repoKey := org + "/" + repo

	r, err := o.fetcher.Repository(ctx, org, repo)
	if err != nil {
		return err
	}
	if r == nil {
		o.logger.WithField("repo", repoKey).Warn("repository not found upstream")
		return nil
	}

	node, err := o.transform.RepoNode(repoKey, r)
	if err != nil {
		return err
	}
	return o.apply(ctx, stats, graph.Batch{Nodes: []graph.Node{node}})
}

func (o *Orchestrator) ingestContributors(ctx context.Context, org, repo string, stats *RunStats) error {
	repoKey := org + "/" + repo
	start, err := o.loadCursor(repoKey, ModeContributors)
	if err != nil {
		return err
	}

	res, err := o.fetcher.Contributors(ctx, org, repo, start, o.caps, func(_, next int, items []*github.Contributor) error {
		batch, skipped := o.transform.ContributorBatch(repoKey, items)
		stats.RecordsSkipped += skipped
		if err := o.apply(ctx, stats, batch); err != nil {
			return err
		}
		return o.saveCursor(repoKey, ModeContributors, next)
	})
	return o.finishSequence(stats, res, err)
}

func (o *Orchestrator) ingestPullRequests(ctx context.Context, org, repo string, stats *RunStats) error {
	repoKey := org + "/" + repo
	start, err := o.loadCursor(repoKey, ModePullRequests)
	if err != nil {
		return err
	}

	res, err := o.fetcher.PullRequests(ctx, org, repo, start, o.caps, func(_, next int, items []*github.PullRequest) error {
		var pageBatch graph.Batch

		for _, pr := range items {
			files, err := o.fetcher.PullRequestFiles(ctx, org, repo, pr.GetNumber())
			if err != nil {
				return fmt.Errorf("files for #%d: %w", pr.GetNumber(), err)
			}
			reviews, err := o.fetcher.PullRequestReviews(ctx, org, repo, pr.GetNumber())
			if err != nil {
				return fmt.Errorf("reviews for #%d: %w", pr.GetNumber(), err)
			}

			batch, err := o.transform.PullRequestBatch(repoKey, pr, files, reviews)
			if err != nil {
				// One malformed record never stalls the page.
				o.logger.WithError(err).WithField("repo", repoKey).Warn("skipping malformed pull request")
				stats.RecordsSkipped++
				continue
			}
			pageBatch.Append(batch)
		}

		if err := o.apply(ctx, stats, pageBatch); err != nil {
			return err
		}
		return o.saveCursor(repoKey, ModePullRequests, next)
	})
	return o.finishSequence(stats, res, err)
}

func (o *Orchestrator) ingestIssues(ctx context.Context, org, repo string, stats *RunStats) error {
	repoKey := org + "/" + repo
	start, err := o.loadCursor(repoKey, ModeIssues)
	if err != nil {
		return err
	}

	res, err := o.fetcher.Issues(ctx, org, repo, start, o.caps, func(_, next int, items []*github.Issue) error {
		var pageBatch graph.Batch

		for _, issue := range items {
			batch, err := o.transform.IssueBatch(repoKey, issue)
			if err != nil {
				o.logger.WithError(err).WithField("repo", repoKey).Warn("skipping malformed issue")
				stats.RecordsSkipped++
				continue
			}
			pageBatch.Append(batch)
		}

		if err := o.apply(ctx, stats, pageBatch); err != nil {
			return err
		}
		return o.saveCursor(repoKey, ModeIssues, next)
	})
	return o.finishSequence(stats, res, err)
}

func (o *Orchestrator) ingestLabels(ctx context.Context, org, repo string, stats *RunStats) error {
	repoKey := org + "/" + repo
	start, err := o.loadCursor(repoKey, ModeLabels)
	if err != nil {
		return err
	}

	res, err := o.fetcher.Labels(ctx, org, repo, start, o.caps, func(_, next int, items []*github.Label) error {
		if err := o.apply(ctx, stats, o.transform.LabelBatch(repoKey, items)); err != nil {
			return err
		}
		return o.saveCursor(repoKey, ModeLabels, next)
	})
	return o.finishSequence(stats, res, err)
}

// IngestAll runs every enabled registered repository, up to the configured
// concurrency. A credential failure cancels the whole pass; any other
// per-repository failure is reported in that repository's stats.
func (o *Orchestrator) IngestAll(ctx context.Context) ([]RunStats, error) {
	repos, err := o.registry.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled repositories: %w", err)
	}

	var mu sync.Mutex
	var all []RunStats

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, r := range repos {
		r := r
		g.Go(func() error {
			stats, err := o.IngestRepo(gctx, r.Org, r.Repo)

			mu.Lock()
			all = append(all, stats)
			mu.Unlock()

			if err != nil && (errors.Is(err, githubapi.ErrBadCredentials) || gctx.Err() != nil) {
				return err
			}
			if err != nil {
				o.logger.WithError(err).WithField("repo", r.Key()).Error("repository ingestion failed")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return all, err
	}
	return all, nil
}

func (o *Orchestrator) apply(ctx context.Context, stats *RunStats, batch graph.Batch) error {
	if batch.Empty() {
		return nil
	}

	report, err := o.writer.ApplyBatch(ctx, batch)
	stats.NodesWritten += report.NodesWritten
	stats.EdgesWritten += report.EdgesWritten
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d items failed to write", len(report.Failed))
	}
	return nil
}

func (o *Orchestrator) loadCursor(repoKey, mode string) (githubapi.Cursor, error) {
	cur, found, err := o.checkpoints.Load(repoKey, mode)
	if err != nil {
		return githubapi.Cursor{}, fmt.Errorf("load checkpoint %s/%s: %w", repoKey, mode, err)
	}
	if !found {
		return githubapi.Cursor{}, nil
	}
	return githubapi.Cursor{Page: cur.Page}, nil
}

func (o *Orchestrator) saveCursor(repoKey, mode string, nextPage int) error {
	if err := o.checkpoints.Save(repoKey, mode, checkpoint.Cursor{Page: nextPage}); err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", repoKey, mode, err)
	}
	return nil
}

func (o *Orchestrator) finishSequence(stats *RunStats, res githubapi.Result, err error) error {
	stats.PagesFetched += res.Pages
	if res.Partial {
		stats.Partial = true
	}
	return err
}
