package ingest

import "strings"

// BotFilter excludes automation accounts from the graph. Upstream marks
// app accounts with a non-User type; older bots are only recognizable by
// login suffix.
type BotFilter struct {
	suffixes []string
}

// NewBotFilter creates a filter with extra login suffixes on top of the
// default "[bot]" marker.
func NewBotFilter(extraSuffixes ...string) *BotFilter {
	return &BotFilter{suffixes: append([]string{"[bot]"}, extraSuffixes...)}
}

// IsBot reports whether the account should be excluded. accountType is
// the upstream account type ("User", "Bot", "Organization"); an empty
// accountType is treated as a user and judged by login alone.
func (f *BotFilter) IsBot(login, accountType string) bool {
	if accountType != "" && accountType != "User" {
		return true
	}
	lower := strings.ToLower(login)
	for _, suffix := range f.suffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}
