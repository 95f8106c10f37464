package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/contribconnect/contribgraph/internal/graph"
)

// DefaultTimeout bounds a single query. Hitting it yields whatever was
// aggregated so far with Truncated set, never an error.
const DefaultTimeout = 10 * time.Second

// Contributor is one ranked person in an owners or reviewers answer.
type Contributor struct {
	Login        string    `json:"login"`
	Count        int       `json:"count"`
	LastActivity time.Time `json:"lastActivity,omitzero"`
}

// OwnersResult answers "who owns this file".
type OwnersResult struct {
	File          string        `json:"file"`
	Owners        []Contributor `json:"owners"`
	Truncated     bool          `json:"truncated,omitempty"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// ReviewersResult answers "who should review a change to this file".
// Degraded is set when no review history exists and authorship was used
// as the fallback signal.
type ReviewersResult struct {
	File          string        `json:"file"`
	Reviewers     []Contributor `json:"reviewers"`
	Degraded      bool          `json:"degraded,omitempty"`
	Truncated     bool          `json:"truncated,omitempty"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// RelatedIssue is one issue ranked by label overlap.
type RelatedIssue struct {
	ID           string    `json:"id"`
	Number       int       `json:"number"`
	Title        string    `json:"title"`
	State        string    `json:"state"`
	SharedLabels []string  `json:"sharedLabels"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
}

// RelatedResult answers "which issues look like this one".
type RelatedResult struct {
	Issue         string         `json:"issue"`
	Related       []RelatedIssue `json:"related"`
	Truncated     bool           `json:"truncated,omitempty"`
	ExecutionTime time.Duration  `json:"executionTime"`
}

// Engine answers ownership and similarity queries by walking the reverse
// index: file to pull requests via TOUCHES, pull requests to people via
// AUTHORED and REVIEWED. Results are deterministic: ties break on recency
// and then login.
type Engine struct {
	store   graph.Store
	cache   *ResultCache
	logger  *logrus.Logger
	timeout time.Duration
}

// NewEngine creates an engine over the given store. cache may be nil.
func NewEngine(store graph.Store, cache *ResultCache, logger *logrus.Logger, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{store: store, cache: cache, logger: logger, timeout: timeout}
}

// FindOwners ranks the people who authored pull requests touching the
// given file or directory, busiest first. A directory path covers every
// file node underneath it.
func (e *Engine) FindOwners(ctx context.Context, repoKey, path string) (OwnersResult, error) {
	start := time.Now()
	result := OwnersResult{File: path, Owners: []Contributor{}}

	cacheKey := resultKey("owners", repoKey, path)
	if e.cache != nil {
		if ok, err := e.cache.Get(ctx, cacheKey, &result); err == nil && ok {
			result.ExecutionTime = time.Since(start)
			return result, nil
		}
	}

	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	owners, truncated, err := e.rankContributors(qctx, repoKey, path, graph.EdgeAuthored, "createdAt")
	if err != nil {
		return result, err
	}

	result.Owners = owners
	result.Truncated = truncated
	result.ExecutionTime = time.Since(start)

	if e.cache != nil && !truncated {
		e.cache.Set(ctx, cacheKey, result)
	}
	return result, nil
}

// FindReviewers ranks the people who reviewed pull requests touching the
// given file or directory. With no review history at all it falls back to
// authorship and marks the answer degraded.
func (e *Engine) FindReviewers(ctx context.Context, repoKey, path string) (ReviewersResult, error) {
	start := time.Now()
	result := ReviewersResult{File: path, Reviewers: []Contributor{}}

	cacheKey := resultKey("reviewers", repoKey, path)
	if e.cache != nil {
		if ok, err := e.cache.Get(ctx, cacheKey, &result); err == nil && ok {
			result.ExecutionTime = time.Since(start)
			return result, nil
		}
	}

	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reviewers, truncated, err := e.rankContributors(qctx, repoKey, path, graph.EdgeReviewed, "submittedAt")
	if err != nil {
		return result, err
	}

	if len(reviewers) == 0 && !truncated {
		owners, ownersTruncated, err := e.rankContributors(qctx, repoKey, path, graph.EdgeAuthored, "createdAt")
		if err != nil {
			return result, err
		}
		reviewers = owners
		truncated = ownersTruncated
		result.Degraded = true
	}

	result.Reviewers = reviewers
	result.Truncated = truncated
	result.ExecutionTime = time.Since(start)

	if e.cache != nil && !truncated {
		e.cache.Set(ctx, cacheKey, result)
	}
	return result, nil
}

// FindRelatedIssues ranks other issues in the repository by how many
// labels they share with the given issue. Issues resolved by the same
// pull requests join the candidate set even without a label in common.
func (e *Engine) FindRelatedIssues(ctx context.Context, repoKey string, number, limit int) (RelatedResult, error) {
	start := time.Now()
	issueID := graph.IssueNodeID(repoKey, number)
	result := RelatedResult{Issue: issueID, Related: []RelatedIssue{}}

	if limit <= 0 {
		limit = 10
	}

	cacheKey := resultKey("related", repoKey, fmt.Sprintf("%d:%d", number, limit))
	if e.cache != nil {
		if ok, err := e.cache.Get(ctx, cacheKey, &result); err == nil && ok {
			result.ExecutionTime = time.Since(start)
			return result, nil
		}
	}

	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	node, err := e.store.GetNode(qctx, issueID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return result, fmt.Errorf("issue #%d in %s: %w", number, repoKey, graph.ErrNotFound)
		}
		return result, err
	}
	labels := node.Attrs["labels"].AsStrings()

	shared := make(map[string][]string)
	truncated := false

scan:
	for _, label := range labels {
		labelID := graph.LabelNodeID(repoKey, label)
		edges, err := e.store.EdgesTo(qctx, labelID, graph.EdgeHasLabel)
		if err != nil {
			if truncatedErr(err) {
				truncated = true
				break scan
			}
			return result, err
		}
		for _, edge := range edges {
			if edge.From == issueID {
				continue
			}
			shared[edge.From] = append(shared[edge.From], label)
		}
	}

	// A pull request that fixes this issue often fixes its neighbors too.
	if !truncated {
		fixedBy, err := e.store.EdgesTo(qctx, issueID, graph.EdgeFixes)
		if err != nil && !truncatedErr(err) {
			return result, err
		}
		if truncatedErr(err) {
			truncated = true
		}
	fixes:
		for _, in := range fixedBy {
			siblings, err := e.store.EdgesFrom(qctx, in.From, graph.EdgeFixes)
			if err != nil {
				if truncatedErr(err) {
					truncated = true
					break fixes
				}
				return result, err
			}
			for _, out := range siblings {
				if out.To == issueID {
					continue
				}
				if _, ok := shared[out.To]; !ok {
					shared[out.To] = nil
				}
			}
		}
	}

	related := make([]RelatedIssue, 0, len(shared))
	for id, sharedLabels := range shared {
		ri := RelatedIssue{ID: id, SharedLabels: sharedLabels}
		if other, err := e.store.GetNode(qctx, id); err == nil {
			ri.Number = other.Attrs["number"].AsInt()
			ri.Title = other.Attrs["title"].AsString()
			ri.State = other.Attrs["state"].AsString()
			ri.CreatedAt = other.Attrs["createdAt"].AsTime()
		} else if truncatedErr(err) {
			truncated = true
			break
		}
		sort.Strings(ri.SharedLabels)
		related = append(related, ri)
	}

	sort.Slice(related, func(i, j int) bool {
		if len(related[i].SharedLabels) != len(related[j].SharedLabels) {
			return len(related[i].SharedLabels) > len(related[j].SharedLabels)
		}
		if !related[i].CreatedAt.Equal(related[j].CreatedAt) {
			return related[i].CreatedAt.After(related[j].CreatedAt)
		}
		return related[i].ID < related[j].ID
	})
	if len(related) > limit {
		related = related[:limit]
	}

	result.Related = related
	result.Truncated = truncated
	result.ExecutionTime = time.Since(start)

	if e.cache != nil && !truncated {
		e.cache.Set(ctx, cacheKey, result)
	}
	return result, nil
}

// rankContributors walks files <- TOUCHES <- pull requests <- edgeType <-
// users and aggregates per login. The path expands to every file node
// underneath it, so directories work the same as single files. A deadline
// mid-walk returns the partial aggregation with truncated set.
func (e *Engine) rankContributors(ctx context.Context, repoKey, path string, edgeType graph.EdgeType, activityProp string) ([]Contributor, bool, error) {
	fileIDs, truncated, err := e.expandPath(ctx, repoKey, path)
	if err != nil {
		return nil, false, err
	}

	// A pull request touching several matched files still counts once.
	seenPR := make(map[string]bool)
	var prIDs []string

files:
	for _, fileID := range fileIDs {
		touches, err := e.store.EdgesTo(ctx, fileID, graph.EdgeTouches)
		if err != nil {
			if truncatedErr(err) {
				truncated = true
				break files
			}
			return nil, false, fmt.Errorf("touches of %s: %w", fileID, err)
		}
		for _, touch := range touches {
			if !seenPR[touch.From] {
				seenPR[touch.From] = true
				prIDs = append(prIDs, touch.From)
			}
		}
	}

	type agg struct {
		count int
		last  time.Time
	}
	byLogin := make(map[string]*agg)

	for _, prID := range prIDs {
		edges, err := e.store.EdgesTo(ctx, prID, edgeType)
		if err != nil {
			if truncatedErr(err) {
				truncated = true
				break
			}
			return nil, false, fmt.Errorf("%s of %s: %w", edgeType, prID, err)
		}

		for _, edge := range edges {
			login := loginFromUserID(edge.From)
			if login == "" {
				continue
			}
			a := byLogin[login]
			if a == nil {
				a = &agg{}
				byLogin[login] = a
			}
			a.count++
			if ts := edge.Props[activityProp].AsTime(); ts.After(a.last) {
				a.last = ts
			}
		}
	}

	contributors := make([]Contributor, 0, len(byLogin))
	for login, a := range byLogin {
		contributors = append(contributors, Contributor{Login: login, Count: a.count, LastActivity: a.last})
	}
	sort.Slice(contributors, func(i, j int) bool {
		if contributors[i].Count != contributors[j].Count {
			return contributors[i].Count > contributors[j].Count
		}
		if !contributors[i].LastActivity.Equal(contributors[j].LastActivity) {
			return contributors[i].LastActivity.After(contributors[j].LastActivity)
		}
		return contributors[i].Login < contributors[j].Login
	})

	return contributors, truncated, nil
}

// expandPath resolves a file or directory path to the file node IDs it
// covers. The exact ID is always probed even when the path was never
// ingested as a node row, so single-file lookups need no node scan.
func (e *Engine) expandPath(ctx context.Context, repoKey, path string) ([]string, bool, error) {
	trimmed := strings.TrimSuffix(path, "/")
	exact := graph.FileNodeID(repoKey, trimmed)

	nodes, err := e.store.NodesByPrefix(ctx, graph.NodeFile, exact)
	if err != nil {
		if truncatedErr(err) {
			return []string{exact}, true, nil
		}
		return nil, false, fmt.Errorf("expand %s: %w", exact, err)
	}

	ids := []string{exact}
	seen := map[string]bool{exact: true}
	for _, n := range nodes {
		if seen[n.ID] {
			continue
		}
		// The prefix scan also matches sibling names ("src" vs
		// "src-legacy"); only paths under the directory qualify.
		if trimmed != "" && !strings.HasPrefix(n.ID, exact+"/") {
			continue
		}
		seen[n.ID] = true
		ids = append(ids, n.ID)
	}
	return ids, false, nil
}

func loginFromUserID(id string) string {
	const prefix = "user#"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		return id[len(prefix):]
	}
	return ""
}

func truncatedErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func resultKey(kind, repoKey, arg string) string {
	return fmt.Sprintf("ccgraph:query:%s:%s:%s", kind, repoKey, arg)
}
