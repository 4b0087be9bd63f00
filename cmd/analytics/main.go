package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	analytics "github.com/jamesprial/go-social-analytics"
	"github.com/jamesprial/go-social-analytics/internal/server"
	"github.com/jamesprial/go-social-analytics/pkg/types"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]
	switch command {
	case "report":
		reportFlags := flag.NewFlagSet("report", flag.ExitOnError)
		limit := reportFlags.Int("limit", analytics.DefaultRankingLimit, "Number of rows in each ranking")
		reportFlags.Parse(os.Args[2:])

		if err := runReport(ctx, os.Stdout, *limit); err != nil {
			log.Fatalf("report failed: %v", err)
		}
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		host := serveFlags.String("host", "localhost", "Host to bind to")
		port := serveFlags.String("port", "8080", "Port to listen on")
		interval := serveFlags.Duration("interval", 0, "Refresh the dataset on this interval (0 disables)")
		serveFlags.Parse(os.Args[2:])

		if err := runServe(ctx, *host, *port, *interval); err != nil {
			log.Fatalf("serve failed: %v", err)
		}
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Social Analytics - rank users and posts by comment activity")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  analytics <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  report [flags]   Fetch the dataset once and print the rankings")
	fmt.Println("  serve [flags]    Serve the dashboard API")
	fmt.Println()
	fmt.Println("Report Flags:")
	fmt.Println("  -limit=<n>         Rows per ranking (default: 5)")
	fmt.Println()
	fmt.Println("Serve Flags:")
	fmt.Println("  -host=<host>       Host to bind to (default: localhost)")
	fmt.Println("  -port=<port>       Port to listen on (default: 8080)")
	fmt.Println("  -interval=<dur>    Periodic refresh interval, e.g. 1m (default: off)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  ANALYTICS_CLIENT_ID, ANALYTICS_CLIENT_SECRET   API credentials (required)")
	fmt.Println("  ANALYTICS_BASE_URL                             API base URL")
	fmt.Println("  ANALYTICS_USER_LIMIT                           Users per refresh (default: 5)")
	fmt.Println("  ANALYTICS_LOG_LEVEL                            debug, info, warn or error (default: info)")
}

// configFromEnv builds a client config from environment lookups.
func configFromEnv(getenv func(string) string) (*analytics.Config, error) {
	cfg := &analytics.Config{
		ClientID:     getenv("ANALYTICS_CLIENT_ID"),
		ClientSecret: getenv("ANALYTICS_CLIENT_SECRET"),
		BaseURL:      getenv("ANALYTICS_BASE_URL"),
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("ANALYTICS_CLIENT_ID and ANALYTICS_CLIENT_SECRET environment variables are required")
	}

	if raw := getenv("ANALYTICS_USER_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("ANALYTICS_USER_LIMIT must be a positive integer, got %q", raw)
		}
		cfg.UserLimit = n
	}

	level, err := parseLevel(getenv("ANALYTICS_LOG_LEVEL"))
	if err != nil {
		return nil, err
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return cfg, nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}

func newClient() (*analytics.Client, *slog.Logger, error) {
	cfg, err := configFromEnv(os.Getenv)
	if err != nil {
		return nil, nil, err
	}
	client, err := analytics.NewClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg.Logger, nil
}

func runReport(ctx context.Context, out io.Writer, limit int) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Refresh(ctx); err != nil {
		return err
	}
	return writeReport(out, client, limit)
}

type rankings interface {
	State() analytics.State
	TopUsers(limit int) []types.UserRanking
	TrendingPosts(limit int) []types.PostRanking
}

func writeReport(out io.Writer, r rankings, limit int) error {
	st := r.State()
	fmt.Fprintf(out, "Fetched %d users, %d posts at %s\n\n",
		len(st.UserOrder), len(st.Posts), st.FetchedAt.Format(time.RFC3339))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOP USERS\t\t")
	fmt.Fprintln(w, "#\tUSER\tCOMMENTS")
	for i, u := range r.TopUsers(limit) {
		fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, u.UserName, u.TotalComments)
	}
	fmt.Fprintln(w, "\t\t")
	fmt.Fprintln(w, "TRENDING POSTS\t\t")
	fmt.Fprintln(w, "#\tPOST\tCOMMENTS")
	for i, p := range r.TrendingPosts(limit) {
		fmt.Fprintf(w, "%d\t%s (%s)\t%d\n", i+1, clip(p.Content, 60), p.AuthorName, p.CommentCount)
	}
	return w.Flush()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func runServe(ctx context.Context, host, port string, interval time.Duration) error {
	client, logger, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	go func() {
		if err := client.Refresh(ctx); err != nil {
			logger.Warn("initial refresh failed", "error", err)
		}
	}()

	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := client.Refresh(ctx); err != nil {
						logger.Warn("scheduled refresh failed", "error", err)
					}
				}
			}
		}()
	}

	srv := server.New(client, logger)
	return srv.ListenAndServe(ctx, host+":"+port)
}
