package pagination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/gh-comments/pkg/github"
	"github.com/Sternrassler/gh-comments/pkg/linkheader"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
	// MaxPages caps the number of pages fetched for one issue
	MaxPages int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		Timeout:        15 * time.Second,
		MaxPages:       400,
	}
}

// PageFetcher fetches a single page of comments
type PageFetcher interface {
	ListComments(ctx context.Context, repo string, number, page int) (*github.CommentsPage, error)
}

// PageError reports a page that could not be fetched
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// pageResult represents the result of fetching a single page
type pageResult struct {
	pageNumber int
	page       *github.CommentsPage
	err        error
}

// BatchFetcher handles parallel fetching of all comment pages of an issue
type BatchFetcher struct {
	fetcher PageFetcher
	repo    string
	config  Config
}

// NewBatchFetcher creates a new batch fetcher for repo
func NewBatchFetcher(fetcher PageFetcher, repo string, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 400
	}

	return &BatchFetcher{
		fetcher: fetcher,
		repo:    repo,
		config:  config,
	}
}

// totalPages reads the page count advertised by the first page.
func totalPages(first *github.CommentsPage) int {
	total := 1
	if last, ok := first.Links.Get(linkheader.RelLast); ok && last.Page > total {
		total = last.Page
	}
	if next, ok := first.Links.Next(); ok && next.Page > total {
		total = next.Page
	}
	return total
}

// FetchAllPages fetches every comment page of an issue in parallel.
// Pages are returned in order. When some pages fail, the pages that
// succeeded are returned together with an error aggregating one *PageError
// per failed page.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, issue int) ([]*github.CommentsPage, error) {
	start := time.Now()

	// Fetch first page to get total page count
	firstCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	first, err := bf.fetcher.ListComments(firstCtx, bf.repo, issue, 1)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	total := totalPages(first)
	if total > bf.config.MaxPages {
		log.Warn().
			Int("issue", issue).
			Int("total_pages", total).
			Int("max_pages", bf.config.MaxPages).
			Msg("Page count capped")
		total = bf.config.MaxPages
	}

	log.Info().
		Str("repo", bf.repo).
		Int("issue", issue).
		Int("total_pages", total).
		Msg("Starting parallel page fetch")

	// Single page optimization
	if total == 1 {
		log.Info().
			Int("issue", issue).
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return []*github.CommentsPage{first}, nil
	}

	pageQueue := make(chan int, total-1)
	results := make(chan pageResult, total-1)

	// Fill page queue (skip page 1, already fetched)
	for page := 2; page <= total; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	workers := bf.config.MaxConcurrency
	if workers > total-1 {
		workers = total - 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, issue, pageQueue, results, &wg, i)
	}

	// Close results channel when all workers done
	go func() {
		wg.Wait()
		close(results)
	}()

	pages := []*github.CommentsPage{first}
	var errs *multierror.Error
	for result := range results {
		if result.err != nil {
			errs = multierror.Append(errs, &PageError{Page: result.pageNumber, Err: result.err})
			continue
		}
		pages = append(pages, result.page)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

	if err := errs.ErrorOrNil(); err != nil {
		log.Warn().
			Err(err).
			Int("issue", issue).
			Int("fetched_pages", len(pages)).
			Int("total_pages", total).
			Msg("Returning partial results")
		return pages, fmt.Errorf("partial data (%d/%d pages): %w", len(pages), total, err)
	}

	log.Info().
		Int("issue", issue).
		Int("pages", len(pages)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return pages, nil
}

// Comments flattens pages into one comment list, preserving order.
func Comments(pages []*github.CommentsPage) []github.Comment {
	var out []github.Comment
	for _, p := range pages {
		out = append(out, p.Comments...)
	}
	return out
}

// worker processes pages from the queue
func (bf *BatchFetcher) worker(ctx context.Context, issue int, pageQueue <-chan int, results chan<- pageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		if err := ctx.Err(); err != nil {
			results <- pageResult{pageNumber: pageNum, err: err}
			continue
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		page, err := bf.fetcher.ListComments(pageCtx, bf.repo, issue, pageNum)
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", pageNum).
				Msg("Page fetch failed")
		}

		results <- pageResult{pageNumber: pageNum, page: page, err: err}
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}
