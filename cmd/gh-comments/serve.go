package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/gh-comments/pkg/comments"
	"github.com/Sternrassler/gh-comments/pkg/dom"
	"github.com/Sternrassler/gh-comments/pkg/github"
	"github.com/Sternrassler/gh-comments/pkg/metrics"
	"github.com/Sternrassler/gh-comments/pkg/render"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve comment widgets over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			redisClient, err := opts.newRedis(ctx)
			if err != nil {
				return err
			}
			if redisClient != nil {
				defer redisClient.Close()
				log.Info().Msg("Connected to Redis, conditional-request cache enabled")
			} else {
				log.Info().Msg("No Redis configured, cache disabled")
			}

			client, err := opts.newClient(redisClient)
			if err != nil {
				return fmt.Errorf("create GitHub client: %w", err)
			}
			defer client.Close()

			srv := &http.Server{
				Addr:              ":" + port,
				Handler:           newServer(client, redisClient, opts).routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().
					Str("addr", srv.Addr).
					Str("repo", opts.repo).
					Str("user_agent", opts.userAgent).
					Msg("Starting comments server")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&port, "port", getEnv("PORT", "8080"), "HTTP listen port")
	return cmd
}

// server holds the dependencies of the HTTP handlers.
type server struct {
	redis  *redis.Client
	loader *comments.Loader
	title  string
	logger zerolog.Logger
}

func newServer(client *github.Client, redisClient *redis.Client, opts *options) *server {
	return &server{
		redis: redisClient,
		loader: comments.NewLoader(client, comments.Config{
			Repo:     opts.repo,
			Authors:  opts.authorSet(),
			PageHref: pageHref,
		}),
		title:  opts.title,
		logger: log.With().Str("component", "server").Logger(),
	}
}

func pageHref(issue, page int) string {
	return fmt.Sprintf("/issues/%d/comments?page=%d", issue, page)
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.RequestURI()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	}))

	r.Get("/health", healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/issues/{issue}/comments", s.commentsHandler)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			s.logger.Error().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// commentsHandler renders one page of an issue's comments as a standalone
// document. The load-more control links to the following page.
func (s *server) commentsHandler(w http.ResponseWriter, r *http.Request) {
	issue, err := parsePositive("issue", chi.URLParam(r, "issue"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if page, err = parsePositive("page", raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	doc := dom.NewDocument(s.title)
	res := s.loader.Load(r.Context(), doc, issue, page)

	body, err := render.Page(s.title, template.HTML(doc.HTML()))
	if err != nil {
		s.logger.Error().Err(err).Int("issue", issue).Msg("Failed to render page")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Comments-State", res.State.String())
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
