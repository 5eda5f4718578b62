// Command gh-comments renders GitHub issue comment threads as embeddable
// HTML widgets, either served over HTTP or written to a file.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/gh-comments/pkg/github"
	"github.com/Sternrassler/gh-comments/pkg/logging"
	"github.com/Sternrassler/gh-comments/pkg/render"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const defaultUserAgent = "gh-comments/0.1.0"

// options are the settings shared by all subcommands. Flags default to the
// matching environment variables.
type options struct {
	repo      string
	authors   string
	apiURL    string
	webURL    string
	redisURL  string
	userAgent string
	title     string
	logLevel  string
	logPretty bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "gh-comments",
		Short:         "Render GitHub issue comments as a blog comment widget",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logCfg := logging.DefaultConfig()
			logCfg.Level = logging.LogLevel(opts.logLevel)
			logCfg.Pretty = opts.logPretty
			logCfg.Output = cmd.ErrOrStderr()
			logging.Setup(logCfg)

			repo, err := github.ParseRepo(opts.repo)
			if err != nil {
				return err
			}
			opts.repo = repo
			return nil
		},
	}

	envCfg := logging.ConfigFromEnv(os.Getenv)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.repo, "repo", getEnv("GH_COMMENTS_REPO", ""), "Repository holding the comment issues (owner/name)")
	flags.StringVar(&opts.authors, "authors", getEnv("GH_COMMENTS_AUTHORS", ""), "Comma-separated logins tagged as post authors")
	flags.StringVar(&opts.apiURL, "api-url", getEnv("GITHUB_API_URL", github.DefaultAPIURL), "GitHub REST API base URL")
	flags.StringVar(&opts.webURL, "web-url", getEnv("GITHUB_URL", github.DefaultWebURL), "GitHub web base URL")
	flags.StringVar(&opts.redisURL, "redis-url", getEnv("REDIS_URL", ""), "Redis address or redis:// URL (empty disables the cache)")
	flags.StringVar(&opts.userAgent, "user-agent", getEnv("USER_AGENT", defaultUserAgent), "User-Agent sent to GitHub")
	flags.StringVar(&opts.title, "title", getEnv("GH_COMMENTS_TITLE", "Comments"), "Widget heading")
	flags.StringVar(&opts.logLevel, "log-level", string(envCfg.Level), "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logPretty, "log-pretty", envCfg.Pretty, "Human-readable console logs")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRenderCmd(opts))

	return cmd
}

// authorSet parses the comma-separated author list.
func (o *options) authorSet() render.Authors {
	var logins []string
	for _, a := range strings.Split(o.authors, ",") {
		logins = append(logins, strings.TrimSpace(a))
	}
	return render.NewAuthors(logins...)
}

// newRedis connects to Redis, or returns nil when no URL is configured.
func (o *options) newRedis(ctx context.Context) (*redis.Client, error) {
	if o.redisURL == "" {
		return nil, nil
	}

	var redisOpts *redis.Options
	if strings.Contains(o.redisURL, "://") {
		parsed, err := redis.ParseURL(o.redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisOpts = parsed
	} else {
		redisOpts = &redis.Options{Addr: o.redisURL}
	}

	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", redisOpts.Addr, err)
	}
	return client, nil
}

// newClient builds the GitHub client.
func (o *options) newClient(redisClient *redis.Client) (*github.Client, error) {
	cfg := github.DefaultConfig(redisClient, o.userAgent)
	cfg.APIURL = o.apiURL
	cfg.WebURL = o.webURL
	return github.New(cfg)
}

func parsePositive(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", name, value)
	}
	return n, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
