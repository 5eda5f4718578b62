// Package cache stores the last successful GitHub API response per endpoint
// in Redis so that later requests can be revalidated with conditional
// headers.
//
// Every request still reaches GitHub. A stored entry only contributes its
// ETag or Last-Modified value to the outgoing request and, when GitHub
// answers 304 Not Modified, the stored body replaces the empty one. The
// cache never answers on its own, which keeps comment threads current and
// lets a GitHub outage surface as a normal transport failure.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, cache.DefaultRetention)
//
//	key := cache.CacheKey{
//		Endpoint:    "/repos/octo/blog/issues/7/comments",
//		QueryParams: url.Values{"page": []string{"2"}},
//		Accept:      "application/vnd.github.v3.html+json",
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// plain request
//	}
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//	}
//
// # Metrics
//
//   - github_cache_hits_total{layer="redis"}
//   - github_cache_misses_total
//   - github_cache_size_bytes{layer="redis"}
//   - github_conditional_requests_total
//   - github_304_responses_total
//   - github_cache_errors_total{operation}
package cache
