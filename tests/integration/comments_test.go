//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/gh-comments/internal/testutil"
	"github.com/Sternrassler/gh-comments/pkg/cache"
	"github.com/Sternrassler/gh-comments/pkg/comments"
	"github.com/Sternrassler/gh-comments/pkg/dom"
	"github.com/Sternrassler/gh-comments/pkg/github"
	"github.com/Sternrassler/gh-comments/pkg/pagination"
	"github.com/Sternrassler/gh-comments/pkg/render"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testRepo = "octo/blog"

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// testTransport sends api.github.com traffic to the mock server.
type testTransport struct {
	mockServer *testutil.MockGitHub
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if req.URL.Host == "" || req.URL.Host == "api.github.com" {
		mockURL := t.mockServer.URL()
		req.URL.Host = mockURL[len("http://"):]
	}
	return http.DefaultTransport.RoundTrip(req)
}

func newClient(t *testing.T, redisClient *redis.Client, mock *testutil.MockGitHub) *github.Client {
	t.Helper()

	c, err := github.New(github.DefaultConfig(redisClient, "TestApp/1.0.0 (integration@test.com)"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	c.SetHTTPClient(&http.Client{
		Transport: &testTransport{mockServer: mock},
		Timeout:   30 * time.Second,
	})
	return c
}

func seedThread(mock *testutil.MockGitHub, issue, n int) {
	var all []testutil.Comment
	for i := 1; i <= n; i++ {
		login := "reader"
		if i == 1 {
			login = "alice"
		}
		all = append(all, testutil.NewComment(int64(i), login, "NONE", "<p>comment</p>"))
	}
	mock.SetIssue(testRepo, issue, n)
	mock.SetComments(testRepo, issue, 2, all)
}

// TestCycleRevalidates loads the same page twice: the second cycle sends
// conditional requests and renders the replayed body after 304.
func TestCycleRevalidates(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockGitHub()
	defer mock.Close()
	seedThread(mock, 7, 3)

	loader := comments.NewLoader(newClient(t, redisClient, mock), comments.Config{
		Repo:    testRepo,
		Authors: render.NewAuthors("alice"),
	})
	ctx := context.Background()

	first := dom.NewDocument("Comments")
	res1 := loader.Load(ctx, first, 7, 1)
	if res1.Err != nil {
		t.Fatalf("first cycle failed: %v", res1.Err)
	}

	// Wait for cache write
	time.Sleep(100 * time.Millisecond)

	second := dom.NewDocument("Comments")
	res2 := loader.Load(ctx, second, 7, 1)
	if res2.Err != nil {
		t.Fatalf("second cycle failed: %v", res2.Err)
	}

	if got := mock.GetRequestCount(); got != 4 {
		t.Errorf("GitHub requests = %d, want 4", got)
	}
	if got := mock.GetConditionalCount(); got != 2 {
		t.Errorf("conditional requests = %d, want 2", got)
	}
	if res2.Appended != res1.Appended || res2.State != comments.StateRenderedWithNext {
		t.Errorf("second cycle = %+v, want same rendering as %+v", res2, res1)
	}
	if len(second.Children(dom.ListID)) != 2 {
		t.Errorf("replayed page rendered %d fragments, want 2", len(second.Children(dom.ListID)))
	}
}

// TestCachedPageStillFails verifies that a stored response is never served
// when GitHub itself fails.
func TestCachedPageStillFails(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockGitHub()
	defer mock.Close()
	seedThread(mock, 7, 3)

	loader := comments.NewLoader(newClient(t, redisClient, mock), comments.Config{Repo: testRepo})
	ctx := context.Background()

	if res := loader.Load(ctx, dom.NewDocument("Comments"), 7, 1); res.Err != nil {
		t.Fatalf("first cycle failed: %v", res.Err)
	}
	time.Sleep(100 * time.Millisecond)

	mock.SetResponse(testutil.CommentsPath(testRepo, 7), testutil.NewServerErrorResponse())

	doc := dom.NewDocument("Comments")
	res := loader.Load(ctx, doc, 7, 1)
	if res.State != comments.StateFailed {
		t.Errorf("State = %v, want failed", res.State)
	}
	children := doc.Children(dom.ListID)
	if len(children) != 1 || string(children[0]) != render.NotOpenMessage {
		t.Errorf("children = %v, want only the fallback", children)
	}
}

// TestBatchFetchWithCache exports a whole thread twice through the worker
// pool; the second export is answered by revalidation.
func TestBatchFetchWithCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockGitHub()
	defer mock.Close()
	seedThread(mock, 9, 9)

	client := newClient(t, redisClient, mock)
	fetcher := pagination.NewBatchFetcher(client, testRepo, pagination.DefaultConfig())
	ctx := context.Background()

	pages, err := fetcher.FetchAllPages(ctx, 9)
	if err != nil {
		t.Fatalf("first export failed: %v", err)
	}
	if len(pagination.Comments(pages)) != 9 {
		t.Fatalf("exported %d comments, want 9", len(pagination.Comments(pages)))
	}

	time.Sleep(100 * time.Millisecond)
	mock.Reset()

	pages, err = fetcher.FetchAllPages(ctx, 9)
	if err != nil {
		t.Fatalf("second export failed: %v", err)
	}
	if len(pages) != 5 {
		t.Errorf("pages = %d, want 5", len(pages))
	}
	if got := mock.GetConditionalCount(); got != 5 {
		t.Errorf("conditional requests = %d, want 5", got)
	}

	keys, err := redisClient.Keys(ctx, "gh:*").Result()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 5 {
		t.Errorf("cached entries = %d, want 5", len(keys))
	}
	for _, k := range keys {
		ttl := redisClient.TTL(ctx, k).Val()
		if ttl <= 0 || ttl > cache.DefaultRetention {
			t.Errorf("key %s TTL = %v, want within retention", k, ttl)
		}
	}
}
