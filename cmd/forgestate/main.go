// ABOUTME: Entry point for the forgestate server and its operator commands
// ABOUTME: serve runs the gateway; the other commands talk to a running server

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/forgestate/internal/config"
	"github.com/2389/forgestate/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
  __                           _        _
 / _| ___  _ __ __ _  ___  ___| |_ __ _| |_ ___
| |_ / _ \| '__/ _' |/ _ \/ __| __/ _' | __/ _ \
|  _| (_) | | | (_| |  __/\__ \ || (_| | ||  __/
|_|  \___/|_|  \__, |\___||___/\__\__,_|\__\___|
               |___/
`

func usage() {
	fmt.Println("Usage: forgestate <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                   Start the state server")
	fmt.Println("  health                  Check server health")
	fmt.Println("  state                   Show checklist progress and locked steps")
	fmt.Println("  complete-all            Mark every checklist step complete")
	fmt.Println("  check <id>=<bool> ...   Apply a batch of checklist updates")
	fmt.Println("  watch                   Follow the server with the sync state machine")
	fmt.Println("  token --sub NAME        Mint a write token (--ttl DURATION, default 720h)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "state":
		err = runState(ctx)
	case "complete-all":
		err = runCompleteAll(ctx)
	case "check":
		err = runCheck(ctx, args)
	case "watch":
		err = runWatch(ctx)
	case "token":
		err = runToken(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if configPath == "" {
		configPath = "(defaults)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s %s\n", cfg.Database.Driver, storeTarget(cfg))
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("Writes are unauthenticated (auth.jwt_secret not set)")
	}
	fmt.Println()

	logger.Info("starting forgestate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	err = gw.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func storeTarget(cfg *config.Config) string {
	if cfg.Database.Driver == "natskv" {
		return cfg.Database.NATSURL + " bucket=" + cfg.Database.Bucket
	}
	return cfg.Database.Path
}
