package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a stored GitHub response.
type CacheKey struct {
	// Endpoint is the API path (e.g. "/repos/octo/blog/issues/7/comments")
	Endpoint string

	// QueryParams are the query parameters (e.g. {"page": "2"})
	QueryParams url.Values

	// Accept is the requested media type; html and raw bodies are stored apart
	Accept string
}

// String generates a deterministic cache key string.
// Format: gh:endpoint:query1=val1:query2=val2:accept=media-type
//
// Example:
//
//	gh:repos/octo/blog/issues/7/comments:page=2:accept=application/vnd.github.v3.html+json
func (k CacheKey) String() string {
	parts := []string{"gh"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Sorted for determinism
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	if k.Accept != "" {
		parts = append(parts, "accept="+k.Accept)
	}

	return strings.Join(parts, ":")
}
