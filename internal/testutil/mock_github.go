// Package testutil provides testing utilities for the GitHub comments client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// User mirrors the GitHub user object.
type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// Comment mirrors a GitHub issue comment served with body_html.
type Comment struct {
	ID                int64  `json:"id"`
	User              User   `json:"user"`
	AuthorAssociation string `json:"author_association"`
	CreatedAt         string `json:"created_at"`
	BodyHTML          string `json:"body_html"`
}

// NewComment builds a comment fixture. Creation times advance by one minute
// per id from 2024-03-05T14:00:00Z so ordering is visible in output.
func NewComment(id int64, login, association, body string) Comment {
	created := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute)
	return Comment{
		ID: id,
		User: User{
			Login:     login,
			AvatarURL: "https://avatars.example.com/" + login,
			HTMLURL:   "https://github.com/" + login,
		},
		AuthorAssociation: association,
		CreatedAt:         created.Format(time.RFC3339),
		BodyHTML:          body,
	}
}

// MockGitHub is a configurable mock GitHub API server for testing.
type MockGitHub struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
	RequestedPaths    []string
}

// NewMockGitHub creates a new mock GitHub server.
func NewMockGitHub() *MockGitHub {
	mock := &MockGitHub{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.RequestedPaths = append(mock.RequestedPaths, r.URL.RequestURI())
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Not Found"}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGitHub) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGitHub) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockGitHub) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.RequestedPaths = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockGitHub) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockGitHub) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetIssue serves issue metadata with the given comment count.
func (m *MockGitHub) SetIssue(repo string, number, comments int) {
	body := fmt.Sprintf(`{"number": %d, "title": "Post %d", "comments": %d, "html_url": "https://github.com/%s/issues/%d"}`,
		number, number, comments, repo, number)
	m.SetResponse(IssuePath(repo, number), NewHealthyResponse(body))
}

// SetComments serves comments split into pages of perPage items, with a
// GitHub-style Link header. An empty slice serves one empty page.
func (m *MockGitHub) SetComments(repo string, number, perPage int, comments []Comment) {
	if perPage <= 0 {
		perPage = 30
	}
	path := CommentsPath(repo, number)

	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			page = 1
		}

		last := (len(comments) + perPage - 1) / perPage
		if last < 1 {
			last = 1
		}

		start := (page - 1) * perPage
		end := start + perPage
		if start > len(comments) {
			start = len(comments)
		}
		if end > len(comments) {
			end = len(comments)
		}

		data, _ := json.Marshal(comments[start:end])

		base := m.server.URL + path
		var links []string
		if page > 1 {
			links = append(links, fmt.Sprintf(`<%s?page=%d>; rel="prev"`, base, page-1))
		}
		if page < last {
			links = append(links, fmt.Sprintf(`<%s?page=%d>; rel="next"`, base, page+1))
			links = append(links, fmt.Sprintf(`<%s?page=%d>; rel="last"`, base, last))
		}
		if page > 1 {
			links = append(links, fmt.Sprintf(`<%s?page=1>; rel="first"`, base))
		}

		if len(links) > 0 {
			w.Header().Set("Link", strings.Join(links, ", "))
		}
		etag := fmt.Sprintf(`"comments-%d-%d"`, page, len(comments))
		if r.Header.Get("If-None-Match") == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGitHub) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockGitHub) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetRequestedPaths returns the request URIs seen so far.
func (m *MockGitHub) GetRequestedPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.RequestedPaths...)
}

// IssuePath returns the API path of an issue.
func IssuePath(repo string, number int) string {
	return fmt.Sprintf("/repos/%s/issues/%d", repo, number)
}

// CommentsPath returns the API path of an issue's comments.
func CommentsPath(repo string, number int) string {
	return IssuePath(repo, number) + "/comments"
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"ETag":         `"test-etag-123"`,
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 like GitHub returns for missing issues.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message": "Not Found", "documentation_url": "https://docs.github.com/rest"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Server Error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
