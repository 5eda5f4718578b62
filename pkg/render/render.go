// Package render builds the HTML fragments of the comments widget.
//
// Values coming from GitHub are escaped by html/template, and the
// pre-rendered comment body is passed through a bluemonday UGC policy
// before it is trusted as markup.
package render

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/gh-comments/pkg/github"
	"github.com/microcosm-cc/bluemonday"
)

// Fixed user-visible messages.
const (
	NoCommentsMessage = "There are no comments for this post."
	NotOpenMessage    = "Comments are not open for this post yet."
	PostLinkLabel     = "Post a comment on Github"
)

// Role is the tag shown next to a commenter's name.
type Role int

const (
	RoleNone Role = iota
	RoleAuthor
	RoleAdmin
)

// Tag returns the visible label, empty for RoleNone.
func (r Role) Tag() string {
	switch r {
	case RoleAuthor:
		return "(author)"
	case RoleAdmin:
		return "(admin)"
	default:
		return ""
	}
}

// Authors is the set of logins credited as post authors.
type Authors map[string]struct{}

// NewAuthors builds an Authors set; empty logins are ignored.
func NewAuthors(logins ...string) Authors {
	a := make(Authors, len(logins))
	for _, l := range logins {
		if l != "" {
			a[l] = struct{}{}
		}
	}
	return a
}

// Contains reports whether login is a recognized author.
func (a Authors) Contains(login string) bool {
	_, ok := a[login]
	return ok
}

// RoleOf returns RoleAuthor for recognized authors, otherwise RoleAdmin when
// GitHub reports the commenter as repository owner.
func RoleOf(login, association string, authors Authors) Role {
	if authors.Contains(login) {
		return RoleAuthor
	}
	if association == github.AssociationOwner {
		return RoleAdmin
	}
	return RoleNone
}

// Timestamp formats t like "Tue, 05 Mar 2024 14:01:00 GMT".
func Timestamp(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

var (
	commentTemplate = template.Must(template.New("comment").Parse(
		`<div class="gh-comment">` +
			`<div class="gh-comment-header" id="gh-comment-header-id-{{.ID}}">` +
			`<img src="{{.AvatarURL}}" alt="">` +
			`<b><a href="{{.ProfileURL}}">{{.Login}}</a></b>` +
			`{{with .Tag}} <span class="gh-comment-op-tag">{{.}}</span>{{end}}` +
			` posted at <em>{{.Timestamp}}</em>` +
			`</div>` +
			`<div class="gh-comment-content">{{.Body}}</div>` +
			`</div>`))

	postLinkTemplate = template.Must(template.New("post").Parse(
		`<a href="{{.}}#new_comment_field" target="_blank" rel="nofollow" id="gh-comments-btn">` + PostLinkLabel + `</a>`))

	pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
.gh-comment { border: 1px solid #d0d7de; border-radius: 6px; margin: 1em 0; }
.gh-comment-header { background: #f6f8fa; padding: .5em; border-bottom: 1px solid #d0d7de; }
.gh-comment-header img { width: 20px; height: 20px; vertical-align: middle; margin-right: .5em; }
.gh-comment-content { padding: .5em 1em; }
.gh-comment-op-tag { color: #57606a; }
</style>
</head>
<body>
{{.Widget}}</body>
</html>
`))
)

type commentView struct {
	ID         int64
	AvatarURL  string
	ProfileURL string
	Login      string
	Tag        string
	Timestamp  string
	Body       template.HTML
}

// Policies are pooled rather than shared between goroutines.
var policyPool = sync.Pool{
	New: func() interface{} {
		return newPolicy()
	},
}

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	// GitHub marks up code blocks, task lists and mentions with classes.
	p.AllowAttrs("class").Globally()
	return p
}

// SanitizeBody cleans API-supplied body HTML.
func SanitizeBody(body string) template.HTML {
	policy := policyPool.Get().(*bluemonday.Policy)
	defer policyPool.Put(policy)
	return template.HTML(policy.Sanitize(body))
}

// Comment renders one comment fragment.
func Comment(c github.Comment, authors Authors) (template.HTML, error) {
	view := commentView{
		ID:         c.ID,
		AvatarURL:  c.User.AvatarURL,
		ProfileURL: c.User.HTMLURL,
		Login:      c.User.Login,
		Tag:        RoleOf(c.User.Login, c.AuthorAssociation, authors).Tag(),
		Timestamp:  Timestamp(c.CreatedAt),
		Body:       SanitizeBody(c.BodyHTML),
	}

	var buf bytes.Buffer
	if err := commentTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// PostLink renders the link to GitHub's comment form for an issue page.
func PostLink(issueURL string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := postLinkTemplate.Execute(&buf, issueURL); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// Count renders the comment-count badge text.
func Count(n int) string {
	if n == 1 {
		return "1 comment"
	}
	return strconv.Itoa(n) + " comments"
}

// Page wraps a rendered widget into a standalone HTML document.
func Page(title string, widget template.HTML) ([]byte, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Title  string
		Widget template.HTML
	}{title, widget})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
