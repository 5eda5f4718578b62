package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/gh-comments/pkg/linkheader"
)

// AssociationOwner is the author_association of the repository owner.
const AssociationOwner = "OWNER"

// User is the author of a comment.
type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// Comment is an issue comment as returned with MediaTypeHTML.
type Comment struct {
	ID                int64     `json:"id"`
	User              User      `json:"user"`
	AuthorAssociation string    `json:"author_association"`
	CreatedAt         time.Time `json:"created_at"`
	BodyHTML          string    `json:"body_html"`
}

// Issue is the subset of issue metadata the widget displays.
type Issue struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Comments int    `json:"comments"`
	HTMLURL  string `json:"html_url"`
}

// CommentsPage is one page of an issue's comments.
type CommentsPage struct {
	Issue    int
	Page     int
	Comments []Comment
	Links    linkheader.Table
}

// HasNext reports whether GitHub advertised a following page.
func (p *CommentsPage) HasNext() bool {
	_, ok := p.Links.Next()
	return ok
}

// Endpoints are the three URLs one page-load cycle uses.
type Endpoints struct {
	// Issue is the issue-metadata API URL.
	Issue string
	// Comments is the comments-list API URL for one page.
	Comments string
	// HTML is the human-facing issue page.
	HTML string
}

// Endpoints computes the URLs for a repository ("owner/name"), issue number
// and page. Pages below 1 are treated as 1.
func (c *Client) Endpoints(repo string, issue, page int) Endpoints {
	if page < 1 {
		page = 1
	}
	return Endpoints{
		Issue:    c.apiURL + issuePath(repo, issue),
		Comments: c.apiURL + commentsPath(repo, issue) + "?page=" + strconv.Itoa(page),
		HTML:     fmt.Sprintf("%s/%s/issues/%d", c.webURL, repo, issue),
	}
}

func issuePath(repo string, issue int) string {
	return fmt.Sprintf("/repos/%s/issues/%d", repo, issue)
}

func commentsPath(repo string, issue int) string {
	return issuePath(repo, issue) + "/comments"
}

// GetIssue fetches issue metadata.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	var issue Issue
	if _, err := c.getJSON(ctx, c.Endpoints(repo, number, 1).Issue, MediaTypeJSON, "issue", &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListComments fetches one page of comments with rendered HTML bodies.
// Malformed Link entries are logged and skipped.
func (c *Client) ListComments(ctx context.Context, repo string, number, page int) (*CommentsPage, error) {
	if page < 1 {
		page = 1
	}

	var comments []Comment
	header, err := c.getJSON(ctx, c.Endpoints(repo, number, page).Comments, MediaTypeHTML, "comments", &comments)
	if err != nil {
		return nil, err
	}

	links, err := linkheader.Parse(header.Get("Link"))
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("repo", repo).
			Int("issue", number).
			Int("page", page).
			Msg("Skipped malformed Link header entries")
	}

	return &CommentsPage{
		Issue:    number,
		Page:     page,
		Comments: comments,
		Links:    links,
	}, nil
}

// getJSON fetches rawURL and decodes a 2xx body into out. Any other outcome
// is returned as an *APIError.
func (c *Client) getJSON(ctx context.Context, rawURL, accept, endpoint string, out interface{}) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := c.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: c.classifyError(resp, nil),
			Message:    statusMessage(resp),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		githubErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode " + endpoint + " response",
			Err:        err,
		}
	}

	return resp.Header, nil
}

// statusMessage prefers GitHub's {"message": ...} body over the status line.
func statusMessage(resp *http.Response) string {
	var body struct {
		Message string `json:"message"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	if resp.Status != "" {
		return resp.Status
	}
	return strings.TrimSpace(fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
}

// ParseRepo validates an "owner/name" repository identifier.
func ParseRepo(repo string) (string, error) {
	owner, name, ok := strings.Cut(strings.Trim(repo, "/"), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid repository %q: want owner/name", repo)
	}
	return url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}
