package endpoint

import (
	"sort"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// AnyHost is the host key of endpoints that declare neither host nor
// hostRegex.
const AnyHost = "*"

// Rule is one route rule. It is built from an apiEndpoints entry; the
// entry name becomes APIEndpointName and is never taken from the entry
// body.
type Rule struct {
	APIEndpointName string
	Host            string
	IsRegexHost     bool
	PathRegex       string
	Paths           []string
	Methods         []string
	Scopes          []string
}

// MatchesAllPaths reports whether the rule declares no path constraint.
func (r *Rule) MatchesAllPaths() bool {
	return r.PathRegex == "" && len(r.Paths) == 0
}

// HostEntry groups the rules declared for one host key, in declaration
// order.
type HostEntry struct {
	Key     string
	IsRegex bool
	Routes  []*Rule
}

// HostTable maps host keys to their rules. Hosts keep the order in which
// they were first seen. A HostTable is not modified after it is built.
type HostTable struct {
	entries []*HostEntry
	index   map[hostID]*HostEntry
}

// hostID separates a literal host from a regex with the same source text.
type hostID struct {
	key     string
	isRegex bool
}

// Hosts returns the host entries in table order.
func (t *HostTable) Hosts() []*HostEntry {
	return append([]*HostEntry(nil), t.entries...)
}

// Get returns the entry for a literal or regex host key.
func (t *HostTable) Get(key string, isRegex bool) (*HostEntry, bool) {
	e, ok := t.index[hostID{key: key, isRegex: isRegex}]
	return e, ok
}

// Len returns the number of host entries.
func (t *HostTable) Len() int {
	return len(t.entries)
}

// Rules returns every rule of the table, host by host.
func (t *HostTable) Rules() []*Rule {
	var rules []*Rule
	for _, e := range t.entries {
		rules = append(rules, e.Routes...)
	}
	return rules
}

// Option is a functional option for BuildHostTable.
type Option func(*tableBuilder)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *tableBuilder) {
		b.logger = logger
	}
}

type tableBuilder struct {
	logger observability.Logger
}

// BuildHostTable groups apiEndpoints by host key. The key is hostRegex
// when set, otherwise host, otherwise AnyHost. Entries and their rules
// keep configuration order.
func BuildHostTable(endpoints *config.OrderedMap[config.APIEndpoint], opts ...Option) *HostTable {
	b := &tableBuilder{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}

	table := &HostTable{index: make(map[hostID]*HostEntry)}

	for name, ep := range endpoints.All() {
		rule := newRule(name, &ep)

		id := hostID{key: rule.Host, isRegex: rule.IsRegexHost}
		entry, ok := table.index[id]
		if !ok {
			entry = &HostEntry{Key: rule.Host, IsRegex: rule.IsRegexHost}
			table.index[id] = entry
			table.entries = append(table.entries, entry)
		}
		entry.Routes = append(entry.Routes, rule)

		b.warnUnknownFields(name, ep.Extra)
		b.logger.Debug("adding route to host",
			observability.String("host", rule.Host),
			observability.Bool("regex", rule.IsRegexHost),
			observability.String("api_endpoint", name),
		)
	}

	return table
}

func newRule(name string, ep *config.APIEndpoint) *Rule {
	rule := &Rule{
		APIEndpointName: name,
		Host:            AnyHost,
		PathRegex:       ep.PathRegex,
		Paths:           ep.AllPaths(),
		Methods:         ep.Methods,
		Scopes:          ep.Scopes,
	}

	switch {
	case ep.HostRegex != "":
		rule.Host = ep.HostRegex
		rule.IsRegexHost = true
	case ep.Host != "":
		rule.Host = ep.Host
	}

	return rule
}

func (b *tableBuilder) warnUnknownFields(name string, extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	fields := make([]string, 0, len(extra))
	for k := range extra {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	b.logger.Warn("ignoring unknown apiEndpoint fields",
		observability.String("api_endpoint", name),
		observability.Strings("fields", fields),
	)
}
