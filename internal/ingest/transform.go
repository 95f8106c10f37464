package ingest

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/go-github/v57/github"

	"github.com/contribconnect/contribgraph/internal/graph"
)

// Closing keywords in PR bodies that link a pull request to the issue it
// resolves ("fixes #123" and friends).
var fixesPattern = regexp.MustCompile(`(?i)\b(?:fix(?:es|ed)?|close[sd]?|resolve[sd]?)\s+#(\d+)`)

// Transformer maps upstream API records to graph batches. All methods are
// pure: malformed records yield an error and no partial batch, so a caller
// can skip a bad record and keep going.
type Transformer struct {
	bots *BotFilter
}

// NewTransformer creates a transformer using the given bot filter.
func NewTransformer(bots *BotFilter) *Transformer {
	return &Transformer{bots: bots}
}

// RepoNode builds the repository node from repository metadata.
func (t *Transformer) RepoNode(repoKey string, r *github.Repository) (graph.Node, error) {
	if r == nil {
		return graph.Node{}, fmt.Errorf("repository %s: nil record", repoKey)
	}

	attrs := graph.Attrs{
		"fullName": graph.String(r.GetFullName()),
		"stars":    graph.Int(r.GetStargazersCount()),
		"language": graph.String(r.GetLanguage()),
	}
	if r.GetDescription() != "" {
		attrs["description"] = graph.String(r.GetDescription())
	}
	if len(r.Topics) > 0 {
		attrs["topics"] = graph.Strings(r.Topics)
	}

	return graph.Node{
		ID:    graph.RepoNodeID(r.GetOwner().GetLogin(), r.GetName()),
		Type:  graph.NodeRepo,
		Attrs: attrs,
	}, nil
}

// ContributorBatch builds user nodes and CONTRIBUTES_TO edges for one page
// of contributors. Bot accounts are dropped.
func (t *Transformer) ContributorBatch(repoKey string, items []*github.Contributor) (graph.Batch, int) {
	var batch graph.Batch
	skipped := 0

	for _, c := range items {
		login := c.GetLogin()
		if login == "" {
			skipped++
			continue
		}
		if t.bots.IsBot(login, c.GetType()) {
			skipped++
			continue
		}

		userID := graph.UserNodeID(login)
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:   userID,
			Type: graph.NodeUser,
			Attrs: graph.Attrs{
				"login": graph.String(login),
			},
		})
		batch.Edges = append(batch.Edges, graph.Edge{
			From: userID,
			To:   graph.RepoNodeIDFromKey(repoKey),
			Type: graph.EdgeContributesTo,
			Props: graph.Attrs{
				"contributions": graph.Int(c.GetContributions()),
			},
		})
	}

	return batch, skipped
}

// PullRequestBatch builds the subgraph for one pull request: the PR node,
// its author, touched files, reviews, and closing-keyword issue links.
// files and reviews come from the per-PR detail fetches.
func (t *Transformer) PullRequestBatch(repoKey string, pr *github.PullRequest, files []*github.CommitFile, reviews []*github.PullRequestReview) (graph.Batch, error) {
	var batch graph.Batch

	if pr == nil || pr.GetNumber() == 0 {
		return batch, fmt.Errorf("pull request in %s: missing number", repoKey)
	}
	number := pr.GetNumber()
	prID := graph.PRNodeID(repoKey, number)

	attrs := graph.Attrs{
		"number": graph.Int(number),
		"title":  graph.String(pr.GetTitle()),
		"state":  graph.String(pr.GetState()),
	}
	if !pr.GetCreatedAt().IsZero() {
		attrs["createdAt"] = graph.Time(pr.GetCreatedAt().Time)
	}
	if pr.GetMerged() || pr.MergedAt != nil {
		attrs["merged"] = graph.Bool(true)
		if pr.MergedAt != nil {
			attrs["mergedAt"] = graph.Time(pr.GetMergedAt().Time)
		}
	}
	batch.Nodes = append(batch.Nodes, graph.Node{ID: prID, Type: graph.NodePullRequest, Attrs: attrs})
	batch.Edges = append(batch.Edges, graph.Edge{
		From:  prID,
		To:    graph.RepoNodeIDFromKey(repoKey),
		Type:  graph.EdgeInRepo,
		Props: graph.Attrs{},
	})

	if author := pr.GetUser().GetLogin(); author != "" && !t.bots.IsBot(author, pr.GetUser().GetType()) {
		userID := graph.UserNodeID(author)
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:    userID,
			Type:  graph.NodeUser,
			Attrs: graph.Attrs{"login": graph.String(author)},
		})
		props := graph.Attrs{}
		if !pr.GetCreatedAt().IsZero() {
			props["createdAt"] = graph.Time(pr.GetCreatedAt().Time)
		}
		batch.Edges = append(batch.Edges, graph.Edge{
			From:  userID,
			To:    prID,
			Type:  graph.EdgeAuthored,
			Props: props,
		})
	}

	for _, f := range files {
		path := f.GetFilename()
		if path == "" {
			continue
		}
		fileID := graph.FileNodeID(repoKey, path)
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:   fileID,
			Type: graph.NodeFile,
			Attrs: graph.Attrs{
				"path": graph.String(path),
			},
		})
		batch.Edges = append(batch.Edges, graph.Edge{
			From: prID,
			To:   fileID,
			Type: graph.EdgeTouches,
			Props: graph.Attrs{
				"additions": graph.Int(f.GetAdditions()),
				"deletions": graph.Int(f.GetDeletions()),
				"status":    graph.String(f.GetStatus()),
			},
		})
	}

	for _, rv := range reviews {
		reviewer := rv.GetUser().GetLogin()
		if reviewer == "" || t.bots.IsBot(reviewer, rv.GetUser().GetType()) {
			continue
		}
		userID := graph.UserNodeID(reviewer)
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:    userID,
			Type:  graph.NodeUser,
			Attrs: graph.Attrs{"login": graph.String(reviewer)},
		})
		props := graph.Attrs{
			"state": graph.String(rv.GetState()),
		}
		if rv.SubmittedAt != nil {
			props["submittedAt"] = graph.Time(rv.GetSubmittedAt().Time)
		}
		batch.Edges = append(batch.Edges, graph.Edge{
			From:  userID,
			To:    prID,
			Type:  graph.EdgeReviewed,
			Props: props,
		})
	}

	// Issues arrive in a later sequence, so each FIXES target gets a stub
	// node in the same batch. The stub never overwrites a full record.
	for _, issueNumber := range extractFixedIssues(pr.GetBody()) {
		issueID := graph.IssueNodeID(repoKey, issueNumber)
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:          issueID,
			Type:        graph.NodeIssue,
			Attrs:       graph.Attrs{"number": graph.Int(issueNumber)},
			Placeholder: true,
		})
		batch.Edges = append(batch.Edges, graph.Edge{
			From:  prID,
			To:    issueID,
			Type:  graph.EdgeFixes,
			Props: graph.Attrs{},
		})
	}

	return batch, nil
}

// IssueBatch builds the subgraph for one issue: the issue node, its author,
// and HAS_LABEL edges with the label nodes they point at. Pull requests
// appearing in the issue listing are skipped (they are ingested separately).
func (t *Transformer) IssueBatch(repoKey string, issue *github.Issue) (graph.Batch, error) {
	var batch graph.Batch

	if issue == nil || issue.GetNumber() == 0 {
		return batch, fmt.Errorf("issue in %s: missing number", repoKey)
	}
	if issue.IsPullRequest() {
		return batch, nil
	}

	number := issue.GetNumber()
	issueID := graph.IssueNodeID(repoKey, number)

	labelNames := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		if l.GetName() != "" {
			labelNames = append(labelNames, l.GetName())
		}
	}

	attrs := graph.Attrs{
		"number": graph.Int(number),
		"title":  graph.String(issue.GetTitle()),
		"state":  graph.String(issue.GetState()),
	}
	if !issue.GetCreatedAt().IsZero() {
		attrs["createdAt"] = graph.Time(issue.GetCreatedAt().Time)
	}
	if len(labelNames) > 0 {
		attrs["labels"] = graph.Strings(labelNames)
	}
	batch.Nodes = append(batch.Nodes, graph.Node{ID: issueID, Type: graph.NodeIssue, Attrs: attrs})
	batch.Edges = append(batch.Edges, graph.Edge{
		From:  issueID,
		To:    graph.RepoNodeIDFromKey(repoKey),
		Type:  graph.EdgeInRepo,
		Props: graph.Attrs{},
	})

	if author := issue.GetUser().GetLogin(); author != "" && !t.bots.IsBot(author, issue.GetUser().GetType()) {
		userID := graph.UserNodeID(author)
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:    userID,
			Type:  graph.NodeUser,
			Attrs: graph.Attrs{"login": graph.String(author)},
		})
		props := graph.Attrs{}
		if !issue.GetCreatedAt().IsZero() {
			props["createdAt"] = graph.Time(issue.GetCreatedAt().Time)
		}
		batch.Edges = append(batch.Edges, graph.Edge{
			From:  userID,
			To:    issueID,
			Type:  graph.EdgeAuthored,
			Props: props,
		})
	}

	for _, name := range labelNames {
		labelID := graph.LabelNodeID(repoKey, name)
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:    labelID,
			Type:  graph.NodeLabel,
			Attrs: graph.Attrs{"name": graph.String(name)},
		})
		batch.Edges = append(batch.Edges, graph.Edge{
			From:  issueID,
			To:    labelID,
			Type:  graph.EdgeHasLabel,
			Props: graph.Attrs{},
		})
	}

	return batch, nil
}

// LabelBatch builds label nodes for one page of repository labels.
func (t *Transformer) LabelBatch(repoKey string, items []*github.Label) graph.Batch {
	var batch graph.Batch
	for _, l := range items {
		name := l.GetName()
		if name == "" {
			continue
		}
		attrs := graph.Attrs{"name": graph.String(name)}
		if l.GetColor() != "" {
			attrs["color"] = graph.String(l.GetColor())
		}
		if l.GetDescription() != "" {
			attrs["description"] = graph.String(l.GetDescription())
		}
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:    graph.LabelNodeID(repoKey, name),
			Type:  graph.NodeLabel,
			Attrs: attrs,
		})
	}
	return batch
}

func extractFixedIssues(body string) []int {
	matches := fixesPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[int]bool, len(matches))
	numbers := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 || seen[n] {
			continue
		}
		seen[n] = true
		numbers = append(numbers, n)
	}
	return numbers
}
