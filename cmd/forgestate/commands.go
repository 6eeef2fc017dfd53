// ABOUTME: Operator commands that talk to a running forgestate server
// ABOUTME: health, state, complete-all, check, watch and token

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/forgestate/internal/auth"
	"github.com/2389/forgestate/internal/checklist"
	"github.com/2389/forgestate/internal/client"
	"github.com/2389/forgestate/internal/config"
	"github.com/2389/forgestate/internal/wire"
)

// newAPIClient builds an HTTP client for sync.server_url. Writes use
// FORGESTATE_TOKEN, or a short-lived token minted from auth.jwt_secret.
func newAPIClient(cfg *config.Config) (*client.HTTPClient, error) {
	c := client.NewHTTPClient(cfg.Sync.ServerURL, nil)

	if token := os.Getenv("FORGESTATE_TOKEN"); token != "" {
		return c.WithToken(token), nil
	}
	if cfg.Auth.JWTSecret == "" {
		return c, nil
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	token, err := verifier.Generate("cli@"+host, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("minting token: %w", err)
	}
	return c.WithToken(token), nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	if err := c.Health(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Println("healthy")
	return nil
}

func runState(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	view, err := c.Checklist(ctx)
	if err != nil {
		return err
	}
	printView(view)
	return nil
}

func progressBar(completed, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := completed * width / total
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// nextSteps returns up to limit steps that are neither done nor locked.
func nextSteps(view *checklist.View, limit int) []checklist.StepView {
	var out []checklist.StepView
	for _, cat := range view.Categories {
		for _, s := range cat.Steps {
			if !s.Done && !s.Locked {
				out = append(out, s)
				if len(out) == limit {
					return out
				}
			}
		}
	}
	return out
}

func printView(view *checklist.View) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	bold.Printf("Progress: %d/%d (%.1f%%)\n", view.Completed, view.Total, view.Percent)
	fmt.Println(progressBar(view.Completed, view.Total, 40))
	fmt.Println()

	for _, cat := range view.Categories {
		mark := gray.Sprint("·")
		if cat.Completed == cat.Total {
			mark = green.Sprint("✓")
		}
		fmt.Printf(" %s %-14s %3d/%-3d %s\n", mark, cat.Category, cat.Completed, cat.Total, progressBar(cat.Completed, cat.Total, 20))
	}

	next := nextSteps(view, 5)
	if len(next) == 0 {
		return
	}
	fmt.Println()
	bold.Println("Available next:")
	for _, s := range next {
		fmt.Printf("  %3d  %s ", s.ID, s.Title)
		gray.Printf("(%s)\n", s.Category)
	}
}

func runCompleteAll(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	st, err := c.RunSingularity(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("completed %d/%d steps (revision %d)\n", st.Completed(), len(st.Checklist), st.Revision)
	return nil
}

// parseCheckArgs parses "<id>=<bool>" pairs; a bare id means true.
func parseCheckArgs(args []string) ([]wire.StepUpdate, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one <id>=<bool> argument is required")
	}
	updates := make([]wire.StepUpdate, 0, len(args))
	for _, arg := range args {
		idPart, valuePart, hasValue := strings.Cut(arg, "=")
		id, err := strconv.Atoi(idPart)
		if err != nil {
			return nil, fmt.Errorf("invalid step id in %q", arg)
		}
		value := true
		if hasValue {
			value, err = strconv.ParseBool(valuePart)
			if err != nil {
				return nil, fmt.Errorf("invalid value in %q: want true or false", arg)
			}
		}
		updates = append(updates, wire.StepUpdate{ID: id, Value: &value})
	}
	return updates, nil
}

func runCheck(ctx context.Context, args []string) error {
	updates, err := parseCheckArgs(args)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	st, err := c.BatchUpdate(ctx, updates)
	if err != nil {
		return err
	}
	fmt.Printf("applied %d update(s): %d/%d complete (revision %d)\n",
		len(updates), st.Completed(), len(st.Checklist), st.Revision)
	return nil
}

func newFetcher(cfg *config.Config) (client.Fetcher, func(), error) {
	if cfg.Sync.Transport != "grpc" {
		return client.NewHTTPClient(cfg.Sync.ServerURL, nil), func() {}, nil
	}
	if cfg.Sync.GRPCTarget == "" {
		return nil, nil, fmt.Errorf("sync.grpc_target is required for the grpc transport")
	}
	conn, err := grpc.NewClient(cfg.Sync.GRPCTarget,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", cfg.Sync.GRPCTarget, err)
	}
	return client.NewGRPCFetcher(conn), func() { _ = conn.Close() }, nil
}

func phaseColor(p client.Phase) *color.Color {
	switch p {
	case client.Stable:
		return color.New(color.FgGreen)
	case client.Degraded:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func describeSnapshot(s client.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-9s retries=%d", s.Phase, s.RetryCount)
	if s.State != nil {
		fmt.Fprintf(&b, " revision=%d progress=%d/%d", s.State.Revision, s.State.Completed(), len(s.State.Checklist))
	}
	if s.Err != nil {
		fmt.Fprintf(&b, " error=%q", s.Err.Error())
	}
	return b.String()
}

func runWatch(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	fetcher, closeFetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}
	defer closeFetcher()

	syncer := client.NewSyncer(fetcher, client.SyncerOptions{
		Policy: cfg.RetryPolicy(),
		Logger: logger,
		Observer: func(s client.Snapshot) {
			phaseColor(s.Phase).Print("● ")
			fmt.Println(describeSnapshot(s))
		},
	})
	syncer.Start(ctx)
	defer syncer.Close()

	color.New(color.FgHiBlack).Println("watching " + cfg.Sync.ServerURL + " (press Enter to retry, Ctrl-C to quit)")

	lines := make(chan struct{})
	go forwardLines(ctx, os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lines:
			if err := syncer.Retry(ctx); err != nil {
				return err
			}
		}
	}
}

// forwardLines signals once per input line until r ends or ctx is done.
func forwardLines(ctx context.Context, r io.Reader, lines chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}
}

// parseTokenArgs accepts --sub/-s and --ttl in "--flag value" or "--flag=value" form.
func parseTokenArgs(args []string) (string, time.Duration, error) {
	subject := ""
	ttl := 720 * time.Hour

	value := func(i *int, name string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var raw string
		var err error
		switch {
		case arg == "--sub" || arg == "-s":
			subject, err = value(&i, "--sub")
		case strings.HasPrefix(arg, "--sub="):
			subject = strings.TrimPrefix(arg, "--sub=")
		case arg == "--ttl":
			raw, err = value(&i, "--ttl")
		case strings.HasPrefix(arg, "--ttl="):
			raw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return "", 0, fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", 0, fmt.Errorf("unexpected argument: %s", arg)
		}
		if err != nil {
			return "", 0, err
		}
		if raw != "" {
			ttl, err = time.ParseDuration(raw)
			if err != nil || ttl <= 0 {
				return "", 0, fmt.Errorf("invalid --ttl %q", raw)
			}
		}
	}

	if subject == "" {
		return "", 0, fmt.Errorf("--sub flag is required")
	}
	return subject, ttl, nil
}

func runToken(args []string) error {
	subject, ttl, err := parseTokenArgs(args)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
