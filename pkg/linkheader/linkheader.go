// Package linkheader parses RFC 8288 style Link headers as returned by the
// GitHub REST API for paginated collections.
//
// Each entry has the form
//
//	<https://api.github.com/repos/o/r/issues/1/comments?page=2>; rel="next"
//
// and carries its page number in the "page" query parameter of the URL.
package linkheader

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Common relation names used by GitHub pagination.
const (
	RelNext  = "next"
	RelPrev  = "prev"
	RelFirst = "first"
	RelLast  = "last"
)

var malformedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "linkheader_malformed_entries_total",
	Help: "Total number of Link header entries skipped as malformed",
})

// Entry is a single relation parsed from a Link header.
type Entry struct {
	// Name is the relation name (e.g. "next", "last").
	Name string

	// URL is the target inside the angle brackets.
	URL string

	// Page is the value of the URL's page query parameter.
	Page int
}

// Table maps relation names to their entries.
type Table map[string]Entry

// Get returns the entry for a relation.
func (t Table) Get(name string) (Entry, bool) {
	e, ok := t[name]
	return e, ok
}

// Next returns the "next" relation, if present.
func (t Table) Next() (Entry, bool) {
	return t.Get(RelNext)
}

// EntryError describes one malformed entry that was skipped.
type EntryError struct {
	Index  int
	Entry  string
	Reason string
}

// Error implements the error interface.
func (e *EntryError) Error() string {
	return fmt.Sprintf("link entry %d %q: %s", e.Index, e.Entry, e.Reason)
}

// Parse converts a Link header into a Table.
//
// An empty header yields an empty table. Malformed entries are skipped and
// reported through the returned error, which aggregates one *EntryError per
// skipped entry; the table always holds every well-formed entry. When two
// entries share a relation name the later one wins.
func Parse(header string) (Table, error) {
	table := make(Table)
	if strings.TrimSpace(header) == "" {
		return table, nil
	}

	var result *multierror.Error
	for i, raw := range strings.Split(header, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		entries, err := parseEntry(raw)
		if err != nil {
			malformedEntriesTotal.Inc()
			result = multierror.Append(result, &EntryError{Index: i, Entry: raw, Reason: err.Error()})
			continue
		}
		for _, e := range entries {
			table[e.Name] = e
		}
	}

	return table, result.ErrorOrNil()
}

// parseEntry tokenizes `<URL>; param; param...`. A rel value may list
// several space-separated names, each of which becomes its own entry.
func parseEntry(raw string) ([]Entry, error) {
	if !strings.HasPrefix(raw, "<") {
		return nil, fmt.Errorf("missing '<'")
	}
	end := strings.IndexByte(raw, '>')
	if end < 0 {
		return nil, fmt.Errorf("missing '>'")
	}
	target := strings.TrimSpace(raw[1:end])
	if target == "" {
		return nil, fmt.Errorf("empty url")
	}

	var rels []string
	for _, param := range strings.Split(raw[end+1:], ";") {
		param = strings.TrimSpace(param)
		if param == "" {
			continue
		}
		key, value, ok := strings.Cut(param, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		rels = strings.Fields(value)
	}
	if len(rels) == 0 {
		return nil, fmt.Errorf("missing rel")
	}

	page, err := pageOf(target)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rels))
	for _, name := range rels {
		entries = append(entries, Entry{Name: name, URL: target, Page: page})
	}
	return entries, nil
}

func pageOf(target string) (int, error) {
	u, err := url.Parse(target)
	if err != nil {
		return 0, fmt.Errorf("invalid url: %w", err)
	}
	raw := u.Query().Get("page")
	if raw == "" {
		return 0, fmt.Errorf("missing page parameter")
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("invalid page %q", raw)
	}
	return page, nil
}
