// Package comments runs the page-load cycle of the comments widget: it
// fetches one page of an issue's comments, renders them into a dom.Tree and
// arms the load-more control for the following page.
package comments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/gh-comments/pkg/dom"
	"github.com/Sternrassler/gh-comments/pkg/github"
	"github.com/Sternrassler/gh-comments/pkg/logging"
	"github.com/Sternrassler/gh-comments/pkg/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comments_cycles_total",
		Help: "Completed page-load cycles by final state",
	}, []string{"state"})

	renderedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comments_rendered_total",
		Help: "Comment fragments appended to widgets",
	})
)

// State is the position of a cycle in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateRenderedWithNext
	StateRenderedTerminal
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateRenderedWithNext:
		return "rendered_with_next"
	case StateRenderedTerminal:
		return "rendered_terminal"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result describes one completed cycle.
type Result struct {
	Issue int
	Page  int
	State State

	// Appended is the number of comment fragments added to the list.
	Appended int

	// CommentCount is the issue's total comment count, 0 when the metadata
	// request failed.
	CommentCount int

	// NextPage is the page the control was armed for, 0 when hidden.
	NextPage int

	// Err is the comments request failure, nil unless State is StateFailed.
	Err error
}

// Source is the part of the GitHub client a Loader needs.
type Source interface {
	Endpoints(repo string, issue, page int) github.Endpoints
	GetIssue(ctx context.Context, repo string, number int) (*github.Issue, error)
	ListComments(ctx context.Context, repo string, number, page int) (*github.CommentsPage, error)
}

// Config configures a Loader.
type Config struct {
	// Repo is the "owner/name" repository holding the comment issues.
	Repo string

	// Authors are the logins tagged "(author)".
	Authors render.Authors

	// PageHref, when set, gives the load-more control a plain link to the
	// page it loads.
	PageHref func(issue, page int) string
}

// Loader renders comment pages into widgets.
type Loader struct {
	source   Source
	repo     string
	authors  render.Authors
	pageHref func(issue, page int) string
	logger   zerolog.Logger
}

// NewLoader creates a Loader reading from source.
func NewLoader(source Source, cfg Config) *Loader {
	authors := cfg.Authors
	if authors == nil {
		authors = render.NewAuthors()
	}
	return &Loader{
		source:   source,
		repo:     cfg.Repo,
		authors:  authors,
		pageHref: cfg.PageHref,
		logger:   logging.NewLogger("comments").With().Str("repo", cfg.Repo).Logger(),
	}
}

// Load runs one cycle for the given issue and page (1 when page < 1) and
// applies it to tree. Failures are rendered into the tree and reported in
// the Result; they are never retried.
func (l *Loader) Load(ctx context.Context, tree dom.Tree, issue, page int) Result {
	if page < 1 {
		page = 1
	}
	start := time.Now()
	res := Result{Issue: issue, Page: page, State: StateFetching}

	logger := l.logger.With().Int("issue", issue).Int("page", page).Logger()
	logger.Debug().Msg("Fetching comments page")

	var (
		wg       sync.WaitGroup
		meta     *github.Issue
		metaErr  error
		comments *github.CommentsPage
		listErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		meta, metaErr = l.source.GetIssue(ctx, l.repo, issue)
	}()
	go func() {
		defer wg.Done()
		comments, listErr = l.source.ListComments(ctx, l.repo, issue, page)
	}()
	wg.Wait()

	if metaErr != nil {
		logger.Warn().Err(metaErr).Msg("Issue metadata unavailable, comment count left at 0")
	} else {
		res.CommentCount = meta.Comments
		if err := tree.SetText(dom.CountID, render.Count(meta.Comments)); err != nil {
			logger.Warn().Err(err).Msg("Failed to update comment count")
		}
	}

	if listErr != nil {
		res.State = StateFailed
		res.Err = listErr
		if err := tree.AppendText(dom.ListID, render.NotOpenMessage); err != nil {
			logger.Error().Err(err).Msg("Failed to append fallback message")
		}
		l.finish(logger, res, start)
		return res
	}

	if err := l.apply(tree, comments, &res); err != nil {
		res.State = StateFailed
		res.Err = err
	}

	l.finish(logger, res, start)
	return res
}

// Apply renders an already fetched page into tree as Load would after a
// successful comments request. The count display is left alone.
func (l *Loader) Apply(tree dom.Tree, page *github.CommentsPage) Result {
	start := time.Now()
	res := Result{Issue: page.Issue, Page: page.Page, State: StateFetching}
	if err := l.apply(tree, page, &res); err != nil {
		res.State = StateFailed
		res.Err = err
	}

	l.finish(l.logger.With().Int("issue", page.Issue).Int("page", page.Page).Logger(), res, start)
	return res
}

// apply renders a fetched page and arms or hides the load-more control.
func (l *Loader) apply(tree dom.Tree, page *github.CommentsPage, res *Result) error {
	if page.Page == 1 {
		link, err := render.PostLink(l.source.Endpoints(l.repo, page.Issue, page.Page).HTML)
		if err != nil {
			return fmt.Errorf("render post link: %w", err)
		}
		if err := tree.InsertAfter(dom.TitleID, link); err != nil {
			return fmt.Errorf("insert post link: %w", err)
		}
	}

	for _, c := range page.Comments {
		fragment, err := render.Comment(c, l.authors)
		if err != nil {
			return fmt.Errorf("render comment %d: %w", c.ID, err)
		}
		if err := tree.Append(dom.ListID, fragment); err != nil {
			return fmt.Errorf("append comment %d: %w", c.ID, err)
		}
		res.Appended++
		renderedTotal.Inc()
	}

	if len(page.Comments) == 0 {
		if err := tree.AppendText(dom.ListID, render.NoCommentsMessage); err != nil {
			return fmt.Errorf("append empty message: %w", err)
		}
	}

	if !page.HasNext() {
		res.State = StateRenderedTerminal
		return tree.SetVisible(dom.LoadMoreID, false)
	}

	next := page.Page + 1
	if err := tree.Bind(dom.LoadMoreID, l.continuation(tree, page.Issue, next)); err != nil {
		return fmt.Errorf("bind load-more control: %w", err)
	}
	if err := tree.SetVisible(dom.LoadMoreID, true); err != nil {
		return err
	}
	res.State = StateRenderedWithNext
	res.NextPage = next
	return nil
}

func (l *Loader) finish(logger zerolog.Logger, res Result, start time.Time) {
	cyclesTotal.WithLabelValues(res.State.String()).Inc()

	event := logger.Info()
	if res.State == StateFailed {
		event = logger.Warn().Err(res.Err)
	}
	event.
		Str("state", res.State.String()).
		Int("appended", res.Appended).
		Int("comment_count", res.CommentCount).
		Dur("duration", time.Since(start)).
		Msg("Comments cycle complete")
}

// continuation loads a later page into the same tree when the load-more
// control is activated.
type continuation struct {
	loader *Loader
	tree   dom.Tree
	issue  int
	page   int
}

func (l *Loader) continuation(tree dom.Tree, issue, page int) dom.Handler {
	c := continuation{loader: l, tree: tree, issue: issue, page: page}
	if l.pageHref != nil {
		return linkedContinuation{c}
	}
	return c
}

// Activate implements dom.Handler.
func (c continuation) Activate(ctx context.Context) error {
	return c.loader.Load(ctx, c.tree, c.issue, c.page).Err
}

type linkedContinuation struct {
	continuation
}

// Href implements dom.Linker.
func (c linkedContinuation) Href() string {
	return c.loader.pageHref(c.issue, c.page)
}
