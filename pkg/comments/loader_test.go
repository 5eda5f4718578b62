package comments

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"testing"

	"github.com/Sternrassler/gh-comments/internal/testutil"
	"github.com/Sternrassler/gh-comments/pkg/dom"
	"github.com/Sternrassler/gh-comments/pkg/github"
	"github.com/Sternrassler/gh-comments/pkg/linkheader"
	"github.com/Sternrassler/gh-comments/pkg/render"
)

const testRepo = "octo/blog"

func newTestLoader(t *testing.T, mock *testutil.MockGitHub, cfg Config) *Loader {
	t.Helper()

	ghCfg := github.DefaultConfig(nil, "TestApp/1.0.0 (test@example.com)")
	ghCfg.APIURL = mock.URL()
	client, err := github.New(ghCfg)
	if err != nil {
		t.Fatalf("github.New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	cfg.Repo = testRepo
	return NewLoader(client, cfg)
}

func threeComments() []testutil.Comment {
	return []testutil.Comment{
		testutil.NewComment(1, "alice", "NONE", "<p>first</p>"),
		testutil.NewComment(2, "bob", "OWNER", "<p>second</p>"),
		testutil.NewComment(3, "carol", "CONTRIBUTOR", "<p>third</p>"),
	}
}

func TestLoad_FirstPageWithNext(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetIssue(testRepo, 7, 3)
	mock.SetComments(testRepo, 7, 2, threeComments())

	loader := newTestLoader(t, mock, Config{Authors: render.NewAuthors("alice")})
	doc := dom.NewDocument("Comments")

	res := loader.Load(context.Background(), doc, 7, 1)

	if res.Err != nil {
		t.Fatalf("Load() error = %v", res.Err)
	}
	if res.State != StateRenderedWithNext {
		t.Errorf("State = %v, want %v", res.State, StateRenderedWithNext)
	}
	if res.Appended != 2 {
		t.Errorf("Appended = %d, want 2", res.Appended)
	}
	if res.NextPage != 2 {
		t.Errorf("NextPage = %d, want 2", res.NextPage)
	}
	if res.CommentCount != 3 {
		t.Errorf("CommentCount = %d, want 3", res.CommentCount)
	}

	children := doc.Children(dom.ListID)
	if len(children) != 2 {
		t.Fatalf("len(children) = %d, want 2", len(children))
	}
	if !strings.Contains(string(children[0]), "<p>first</p>") || !strings.Contains(string(children[1]), "<p>second</p>") {
		t.Errorf("fragments out of order: %v", children)
	}
	if !strings.Contains(string(children[0]), "(author)") {
		t.Errorf("alice should be tagged author: %s", children[0])
	}
	if !strings.Contains(string(children[1]), "(admin)") {
		t.Errorf("owner bob should be tagged admin: %s", children[1])
	}

	siblings := doc.Siblings(dom.TitleID)
	if len(siblings) != 1 {
		t.Fatalf("post link inserted %d times, want 1", len(siblings))
	}
	wantHref := `href="https://github.com/octo/blog/issues/7#new_comment_field"`
	if !strings.Contains(string(siblings[0]), wantHref) {
		t.Errorf("post link = %s, want %s", siblings[0], wantHref)
	}

	if !doc.Visible(dom.LoadMoreID) {
		t.Error("load-more control should be visible")
	}
	if doc.Handler(dom.LoadMoreID) == nil {
		t.Error("load-more control should be bound")
	}

	count := doc.Children(dom.CountID)
	if len(count) != 1 || count[0] != "3 comments" {
		t.Errorf("count = %v, want [3 comments]", count)
	}
}

func TestLoad_ActivateLoadsNextPage(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetIssue(testRepo, 7, 3)
	mock.SetComments(testRepo, 7, 2, threeComments())

	loader := newTestLoader(t, mock, Config{})
	doc := dom.NewDocument("Comments")
	ctx := context.Background()

	loader.Load(ctx, doc, 7, 1)

	if err := doc.Activate(ctx, dom.LoadMoreID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	children := doc.Children(dom.ListID)
	if len(children) != 3 {
		t.Fatalf("len(children) = %d, want 3", len(children))
	}
	if !strings.Contains(string(children[2]), "<p>third</p>") {
		t.Errorf("page 2 fragment = %s", children[2])
	}
	if doc.Visible(dom.LoadMoreID) {
		t.Error("load-more control should be hidden on the last page")
	}
	if n := len(doc.Siblings(dom.TitleID)); n != 1 {
		t.Errorf("post link inserted %d times, want 1", n)
	}

	wantPaths := map[string]bool{
		testutil.CommentsPath(testRepo, 7) + "?page=1": false,
		testutil.CommentsPath(testRepo, 7) + "?page=2": false,
	}
	for _, p := range mock.GetRequestedPaths() {
		if _, ok := wantPaths[p]; ok {
			wantPaths[p] = true
		}
	}
	for p, seen := range wantPaths {
		if !seen {
			t.Errorf("request %s not made", p)
		}
	}
}

func TestLoad_RebindDoesNotStack(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()

	var all []testutil.Comment
	for i := int64(1); i <= 5; i++ {
		all = append(all, testutil.NewComment(i, fmt.Sprintf("user%d", i), "NONE", fmt.Sprintf("<p>c%d</p>", i)))
	}
	mock.SetIssue(testRepo, 9, len(all))
	mock.SetComments(testRepo, 9, 2, all)

	loader := newTestLoader(t, mock, Config{})
	doc := dom.NewDocument("Comments")
	ctx := context.Background()

	loader.Load(ctx, doc, 9, 1)
	doc.Activate(ctx, dom.LoadMoreID)
	doc.Activate(ctx, dom.LoadMoreID)

	children := doc.Children(dom.ListID)
	if len(children) != len(all) {
		t.Fatalf("len(children) = %d, want %d", len(children), len(all))
	}
	for i, c := range children {
		want := fmt.Sprintf("<p>c%d</p>", i+1)
		if !strings.Contains(string(c), want) {
			t.Errorf("children[%d] missing %s", i, want)
		}
	}

	pages := 0
	for _, p := range mock.GetRequestedPaths() {
		if strings.HasPrefix(p, testutil.CommentsPath(testRepo, 9)) {
			pages++
		}
	}
	if pages != 3 {
		t.Errorf("comment page requests = %d, want 3", pages)
	}

	if err := doc.Activate(ctx, dom.LoadMoreID); err != nil {
		t.Fatalf("Activate() on hidden control error = %v", err)
	}
	// The stale binding reloads page 3 only; nothing accumulated.
	if n := len(doc.Children(dom.ListID)); n != len(all)+1 {
		t.Errorf("len(children) = %d, want %d", n, len(all)+1)
	}
}

func TestLoad_EmptyPage(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetIssue(testRepo, 3, 0)
	mock.SetComments(testRepo, 3, 30, nil)

	loader := newTestLoader(t, mock, Config{})
	doc := dom.NewDocument("Comments")

	res := loader.Load(context.Background(), doc, 3, 1)

	if res.State != StateRenderedTerminal {
		t.Errorf("State = %v, want %v", res.State, StateRenderedTerminal)
	}
	children := doc.Children(dom.ListID)
	if len(children) != 1 || children[0] != template.HTML(render.NoCommentsMessage) {
		t.Errorf("children = %v, want only the no-comments message", children)
	}
	if doc.Visible(dom.LoadMoreID) {
		t.Error("load-more control should be hidden")
	}
	if n := len(doc.Siblings(dom.TitleID)); n != 1 {
		t.Errorf("post link inserted %d times, want 1", n)
	}
}

func TestLoad_CommentsFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *testutil.MockGitHub)
	}{
		{
			name: "server error",
			setup: func(m *testutil.MockGitHub) {
				m.SetResponse(testutil.CommentsPath(testRepo, 5), testutil.NewServerErrorResponse())
			},
		},
		{
			name:  "missing issue",
			setup: func(m *testutil.MockGitHub) {},
		},
		{
			name: "malformed body",
			setup: func(m *testutil.MockGitHub) {
				m.SetResponse(testutil.CommentsPath(testRepo, 5), testutil.NewHealthyResponse(`{"not": "a list"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockGitHub()
			defer mock.Close()
			mock.SetIssue(testRepo, 5, 4)
			tt.setup(mock)

			loader := newTestLoader(t, mock, Config{})
			doc := dom.NewDocument("Comments")

			res := loader.Load(context.Background(), doc, 5, 1)

			if res.State != StateFailed {
				t.Errorf("State = %v, want %v", res.State, StateFailed)
			}
			if res.Err == nil {
				t.Error("Err should be set")
			}
			if res.Appended != 0 {
				t.Errorf("Appended = %d, want 0", res.Appended)
			}
			children := doc.Children(dom.ListID)
			if len(children) != 1 || children[0] != template.HTML(render.NotOpenMessage) {
				t.Errorf("children = %v, want only the fallback message", children)
			}
			if len(doc.Siblings(dom.TitleID)) != 0 {
				t.Error("post link must not be inserted on failure")
			}
			if res.CommentCount != 4 {
				t.Errorf("CommentCount = %d, want 4 from metadata", res.CommentCount)
			}
		})
	}
}

type stubSource struct {
	issue    *github.Issue
	issueErr error
	page     *github.CommentsPage
	pageErr  error
}

func (s stubSource) Endpoints(repo string, issue, page int) github.Endpoints {
	return github.Endpoints{HTML: fmt.Sprintf("https://github.com/%s/issues/%d", repo, issue)}
}

func (s stubSource) GetIssue(ctx context.Context, repo string, number int) (*github.Issue, error) {
	return s.issue, s.issueErr
}

func (s stubSource) ListComments(ctx context.Context, repo string, number, page int) (*github.CommentsPage, error) {
	return s.page, s.pageErr
}

func TestLoad_TransportFailure(t *testing.T) {
	netErr := &github.APIError{ErrorClass: github.ErrorClassNetwork, Message: "request failed", Err: errors.New("connection refused")}
	loader := NewLoader(stubSource{
		issue:   &github.Issue{Number: 1, Comments: 2},
		pageErr: netErr,
	}, Config{Repo: testRepo})
	doc := dom.NewDocument("Comments")

	res := loader.Load(context.Background(), doc, 1, 1)

	if !github.IsTransportFailure(res.Err) {
		t.Errorf("Err = %v, want transport failure", res.Err)
	}
	children := doc.Children(dom.ListID)
	if len(children) != 1 || children[0] != template.HTML(render.NotOpenMessage) {
		t.Errorf("children = %v, want only the fallback message", children)
	}
}

func TestLoad_MetadataFailureOnly(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetResponse(testutil.IssuePath(testRepo, 7), testutil.NewServerErrorResponse())
	mock.SetComments(testRepo, 7, 30, threeComments())

	loader := newTestLoader(t, mock, Config{})
	doc := dom.NewDocument("Comments")

	res := loader.Load(context.Background(), doc, 7, 1)

	if res.Err != nil {
		t.Fatalf("Load() error = %v", res.Err)
	}
	if res.State != StateRenderedTerminal {
		t.Errorf("State = %v, want %v", res.State, StateRenderedTerminal)
	}
	if res.CommentCount != 0 {
		t.Errorf("CommentCount = %d, want 0", res.CommentCount)
	}
	if len(doc.Children(dom.CountID)) != 0 {
		t.Error("count display should be untouched")
	}
	if res.Appended != 3 {
		t.Errorf("Appended = %d, want 3", res.Appended)
	}
}

func TestLoad_PageDefaultsToOne(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetIssue(testRepo, 7, 3)
	mock.SetComments(testRepo, 7, 2, threeComments())

	loader := newTestLoader(t, mock, Config{})

	for _, page := range []int{0, -3} {
		res := loader.Load(context.Background(), dom.NewDocument("Comments"), 7, page)
		if res.Page != 1 {
			t.Errorf("Load(page=%d).Page = %d, want 1", page, res.Page)
		}
		if res.NextPage != 2 {
			t.Errorf("Load(page=%d).NextPage = %d, want 2", page, res.NextPage)
		}
	}
}

func TestLoad_LaterPageSkipsPostLink(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetIssue(testRepo, 7, 3)
	mock.SetComments(testRepo, 7, 2, threeComments())

	loader := newTestLoader(t, mock, Config{})
	doc := dom.NewDocument("Comments")

	res := loader.Load(context.Background(), doc, 7, 2)

	if res.Appended != 1 {
		t.Errorf("Appended = %d, want 1", res.Appended)
	}
	if len(doc.Siblings(dom.TitleID)) != 0 {
		t.Error("post link inserted on page 2")
	}
}

func TestLoad_PageHref(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetIssue(testRepo, 7, 3)
	mock.SetComments(testRepo, 7, 2, threeComments())

	loader := newTestLoader(t, mock, Config{
		PageHref: func(issue, page int) string {
			return fmt.Sprintf("/issues/%d/comments?page=%d", issue, page)
		},
	})
	doc := dom.NewDocument("Comments")
	loader.Load(context.Background(), doc, 7, 1)

	if !strings.Contains(doc.HTML(), `href="/issues/7/comments?page=2"`) {
		t.Errorf("load-more link missing:\n%s", doc.HTML())
	}
	if _, ok := doc.Handler(dom.LoadMoreID).(dom.Linker); !ok {
		t.Error("bound handler should be a Linker")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:             "idle",
		StateFetching:         "fetching",
		StateRenderedWithNext: "rendered_with_next",
		StateRenderedTerminal: "rendered_terminal",
		StateFailed:           "failed",
		State(42):             "state(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestApply_FetchedPages(t *testing.T) {
	loader := NewLoader(stubSource{}, Config{Repo: testRepo})
	doc := dom.NewDocument("Comments")

	first := &github.CommentsPage{
		Issue: 4,
		Page:  1,
		Comments: []github.Comment{
			{ID: 1, User: github.User{Login: "alice"}, BodyHTML: "<p>one</p>"},
		},
		Links: mustLinks(t, `<https://api.github.com/x?page=2>; rel="next"`),
	}
	second := &github.CommentsPage{
		Issue: 4,
		Page:  2,
		Comments: []github.Comment{
			{ID: 2, User: github.User{Login: "bob"}, BodyHTML: "<p>two</p>"},
		},
	}

	if res := loader.Apply(doc, first); res.State != StateRenderedWithNext || res.NextPage != 2 {
		t.Errorf("Apply(first) = %+v", res)
	}
	if res := loader.Apply(doc, second); res.State != StateRenderedTerminal {
		t.Errorf("Apply(second).State = %v, want %v", res.State, StateRenderedTerminal)
	}

	if n := len(doc.Children(dom.ListID)); n != 2 {
		t.Errorf("len(children) = %d, want 2", n)
	}
	if n := len(doc.Siblings(dom.TitleID)); n != 1 {
		t.Errorf("post link inserted %d times, want 1", n)
	}
	if doc.Visible(dom.LoadMoreID) {
		t.Error("load-more control should end hidden")
	}
}

func mustLinks(t *testing.T, header string) linkheader.Table {
	t.Helper()
	links, err := linkheader.Parse(header)
	if err != nil {
		t.Fatalf("linkheader.Parse() error = %v", err)
	}
	return links
}
