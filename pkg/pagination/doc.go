// Package pagination provides parallel batch fetching of an issue's comment
// pages.
//
// GitHub advertises the final page through the "last" relation of the Link
// header on the first page. The batch fetcher reads it and fans the remaining
// pages out over a worker pool:
//
//	fetcher := pagination.NewBatchFetcher(client, "octo/blog", pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx, 42)
//
// The batch fetcher:
//   - Fetches the first page to determine the page count
//   - Spawns a worker pool (default 10 workers)
//   - Distributes the remaining pages across workers
//   - Returns the pages that succeeded in page order
//   - Aggregates failed pages into one error alongside the partial result
//
// Failed pages are not retried.
package pagination
