package cache

import (
	"net/http"
	"time"
)

// CacheEntry is a stored GitHub response.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag sent back as If-None-Match
	ETag string `json:"etag"`

	// LastModified sent back as If-Modified-Since when no ETag is known
	LastModified time.Time `json:"last_modified"`

	// StatusCode is the HTTP status code of the stored response
	StatusCode int `json:"status_code"`

	// Headers are the response headers, including Link
	Headers http.Header `json:"headers"`

	// CachedAt is when the response was stored
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was stored.
func (e *CacheEntry) Age() time.Duration {
	return time.Since(e.CachedAt)
}
