package main

import (
	"fmt"
	"html/template"
	"io"
	"os"

	"github.com/Sternrassler/gh-comments/pkg/comments"
	"github.com/Sternrassler/gh-comments/pkg/dom"
	"github.com/Sternrassler/gh-comments/pkg/github"
	"github.com/Sternrassler/gh-comments/pkg/pagination"
	"github.com/Sternrassler/gh-comments/pkg/render"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type renderOptions struct {
	issue  int
	page   int
	all    bool
	output string
}

func newRenderCmd(opts *options) *cobra.Command {
	ro := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render an issue's comments to a static HTML page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ro.issue < 1 {
				return fmt.Errorf("--issue is required and must be positive")
			}

			ctx := cmd.Context()
			redisClient, err := opts.newRedis(ctx)
			if err != nil {
				return err
			}
			if redisClient != nil {
				defer redisClient.Close()
			}

			client, err := opts.newClient(redisClient)
			if err != nil {
				return fmt.Errorf("create GitHub client: %w", err)
			}
			defer client.Close()

			loader := comments.NewLoader(client, comments.Config{
				Repo:    opts.repo,
				Authors: opts.authorSet(),
			})
			doc := dom.NewDocument(opts.title)

			var cycleErr error
			if ro.all {
				cycleErr = renderAll(cmd, client, loader, doc, opts.repo, ro.issue)
			} else {
				res := loader.Load(ctx, doc, ro.issue, ro.page)
				cycleErr = res.Err
			}

			if err := writePage(cmd, ro.output, opts.title, doc); err != nil {
				return err
			}
			if cycleErr != nil {
				return fmt.Errorf("comments for issue %d: %w", ro.issue, cycleErr)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&ro.issue, "issue", 0, "Issue number holding the comments")
	flags.IntVar(&ro.page, "page", 1, "Page to render")
	flags.BoolVar(&ro.all, "all", false, "Render every page of the thread")
	flags.StringVar(&ro.output, "output", "", "Output file (default: stdout)")

	return cmd
}

// renderAll fetches every page with the batch fetcher and applies them in
// order. Pages that failed are reported after the rest are rendered.
func renderAll(cmd *cobra.Command, client *github.Client, loader *comments.Loader, doc *dom.Document, repo string, issue int) error {
	ctx := cmd.Context()

	if meta, err := client.GetIssue(ctx, repo, issue); err != nil {
		log.Warn().Err(err).Int("issue", issue).Msg("Issue metadata unavailable, comment count left at 0")
	} else {
		doc.SetText(dom.CountID, render.Count(meta.Comments))
	}

	pages, fetchErr := pagination.NewBatchFetcher(client, repo, pagination.DefaultConfig()).FetchAllPages(ctx, issue)
	if len(pages) == 0 {
		doc.AppendText(dom.ListID, render.NotOpenMessage)
		return fetchErr
	}

	for _, p := range pages {
		if res := loader.Apply(doc, p); res.Err != nil {
			return res.Err
		}
	}
	return fetchErr
}

func writePage(cmd *cobra.Command, output, title string, doc *dom.Document) error {
	body, err := render.Page(title, template.HTML(doc.HTML()))
	if err != nil {
		return fmt.Errorf("render page: %w", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
