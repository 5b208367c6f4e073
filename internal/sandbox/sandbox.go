// Package sandbox names the audit tables rules write before destructive
// statements and tracks which rule owns each name within a run.
package sandbox

import (
	"sort"
	"strings"

	"github.com/leapstack-labs/leapclean/pkg/core"
)

// Name returns the sandbox table name for a table under a namespace
// (ticket id or rule tag). The result is deterministic: the same inputs always
// produce the same name, so re-runs overwrite rather than accumulate copies.
func Name(namespace, table string) string {
	return sanitize(namespace) + "_" + sanitize(table)
}

// sanitize replaces characters that are not valid in an unquoted table name.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(s))
}

var _ core.SandboxNamer = Name

// claim records who owns a sandbox table.
type claim struct {
	rule   string
	source string
}

// Registry tracks sandbox table ownership for one run.
type Registry struct {
	claims map[string]claim
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{claims: make(map[string]claim)}
}

// Claim registers table as owned by rule, copying rows of source.
// Claiming the same table again for the same rule and source is a no-op, and
// an empty source matches any. Any other second claim fails with
// *core.SandboxCollisionError.
func (r *Registry) Claim(rule, table, source string) error {
	if existing, ok := r.claims[table]; ok {
		if existing.rule == rule {
			switch {
			case existing.source == "":
				r.claims[table] = claim{rule: rule, source: source}
				return nil
			case source == "" || source == existing.source:
				return nil
			}
		}
		return &core.SandboxCollisionError{
			Table:    table,
			Owner:    existing.rule,
			Source:   existing.source,
			Claimant: rule,
			Other:    source,
		}
	}
	r.claims[table] = claim{rule: rule, source: source}
	return nil
}

// Owner returns the rule that claimed table.
func (r *Registry) Owner(table string) (string, bool) {
	c, ok := r.claims[table]
	return c.rule, ok
}

// Tables returns every claimed table, sorted.
func (r *Registry) Tables() []string {
	tables := make([]string, 0, len(r.claims))
	for t := range r.claims {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
