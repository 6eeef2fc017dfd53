// ABOUTME: Gateway orchestrator that wires the state actor to HTTP and gRPC servers
// ABOUTME: Owns the document store, event publisher, metrics registry and listener lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/forgestate/internal/auth"
	"github.com/2389/forgestate/internal/checklist"
	"github.com/2389/forgestate/internal/codex"
	"github.com/2389/forgestate/internal/config"
	"github.com/2389/forgestate/internal/dedupe"
	"github.com/2389/forgestate/internal/events"
	"github.com/2389/forgestate/internal/metrics"
	"github.com/2389/forgestate/internal/projectstate"
	"github.com/2389/forgestate/internal/service"
	"github.com/2389/forgestate/internal/store"
	"github.com/2389/forgestate/internal/wire"
)

// Gateway serves the state service over HTTP and, optionally, gRPC.
type Gateway struct {
	config      *config.Config
	docs        store.DocumentStore
	states      *projectstate.Actor
	service     *service.Service
	publisher   events.Publisher
	registry    *prometheus.Registry
	recorder    metrics.Recorder
	idempotency *dedupe.Cache
	verifier    *auth.JWTVerifier
	httpServer  *http.Server
	grpcServer  *grpc.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New builds every component from cfg. The caller must call Shutdown (Run
// does so itself) to release the store and publisher.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	g := &Gateway{
		config:   cfg,
		recorder: metrics.NoopRecorder{},
		logger:   logger.With("component", "gateway"),
	}

	table, err := loadTable(cfg.Checklist.StepsFile)
	if err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(cfg.Codex.CatalogFile)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		g.registry = prometheus.NewRegistry()
		g.recorder = metrics.NewPrometheusRecorder(g.registry)
	}

	g.publisher, err = initPublisher(cfg.Events, g.logger)
	if err != nil {
		return nil, err
	}

	g.docs, err = store.Open(ctx, store.Options{
		Driver:  cfg.Database.Driver,
		Path:    cfg.Database.Path,
		NATSURL: cfg.Database.NATSURL,
		Bucket:  cfg.Database.Bucket,
	})
	if err != nil {
		_ = g.publisher.Close()
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	g.states, err = projectstate.NewActor(g.docs, projectstate.Options{
		StepCount: table.Len(),
		Publisher: g.publisher,
		Metrics:   g.recorder,
		Logger:    logger,
	})
	if err != nil {
		_ = g.docs.Close()
		_ = g.publisher.Close()
		return nil, fmt.Errorf("starting state actor: %w", err)
	}

	graph := checklist.NewGraph(table)
	mutator := checklist.NewMutator(g.states, graph, checklist.MutatorOptions{
		EnforceLocks: cfg.Checklist.EnforceLocks,
		Logger:       logger,
	})
	g.service = service.New(g.states, mutator, graph, catalog, logger)

	if cfg.Auth.JWTSecret != "" {
		g.verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			g.closeComponents()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	} else {
		g.logger.Warn("auth disabled - no jwt_secret configured, writes are open")
	}

	if cfg.Idempotency.MaxEntries > 0 && cfg.Idempotency.TTL > 0 {
		g.idempotency = dedupe.New(cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries)
	}

	g.httpServer = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		g.grpcServer = g.newGRPCServer()
	}

	g.logger.Info("gateway initialized",
		"steps", table.Len(),
		"codex_entries", catalog.Len(),
		"driver", cfg.Database.Driver,
		"enforce_locks", mutator.EnforcesLocks(),
		"grpc", g.grpcServer != nil,
	)
	return g, nil
}

func loadTable(path string) (*checklist.Table, error) {
	if path == "" {
		return checklist.DefaultTable(), nil
	}
	table, err := checklist.LoadTableFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading step table: %w", err)
	}
	return table, nil
}

func loadCatalog(path string) (*codex.Catalog, error) {
	if path == "" {
		return codex.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading codex catalog: %w", err)
	}
	catalog, err := codex.Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading codex catalog: %w", err)
	}
	return catalog, nil
}

func initPublisher(cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return events.Nop{}, nil
	}
	pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.Subject)
	if err != nil {
		return nil, fmt.Errorf("connecting event publisher: %w", err)
	}
	logger.Info("publishing commit events", "subject", pub.Subject())
	return pub, nil
}

// newGRPCServer creates the gRPC server with keepalive, logging and, when a
// secret is configured, write-token interceptors.
func (g *Gateway) newGRPCServer() *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{requestLogInterceptor(g.logger)}
	if g.verifier != nil {
		interceptors = append(interceptors, auth.UnaryInterceptor(g.verifier, writeMethods(), g.logger))
	}

	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	registerStateService(server, &stateServer{service: g.service, docs: g.docs})
	return server
}

func writeMethods() map[string]bool {
	return map[string]bool{
		wire.FullMethod(wire.MethodReplaceState):       true,
		wire.FullMethod(wire.MethodBatchUpdate):        true,
		wire.FullMethod(wire.MethodRunSingularity):     true,
		wire.FullMethod(wire.MethodAddCustomCodexItem): true,
	}
}

// Handler returns the complete HTTP handler including middleware.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("/api/project-state", g.handleProjectState)
	mux.HandleFunc("/api/checklist/batch", g.handleBatch)
	mux.HandleFunc("/api/checklist", g.handleChecklist)
	mux.HandleFunc("/api/singularity/one-click", g.handleSingularity)
	mux.HandleFunc("/api/codex/custom", g.handleCustomCodex)
	mux.HandleFunc("/api/codex", g.handleCodex)
	mux.HandleFunc("/api/steps", g.handleSteps)

	if g.registry != nil {
		mux.Handle(g.config.Metrics.Path, metrics.HTTPHandler(g.registry))
	}

	var h http.Handler = mux
	h = g.idempotent(h)
	if g.verifier != nil {
		h = auth.RequireWriteToken(g.verifier, g.logger)(h)
	}
	return g.withRequestID(h)
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
// grpcLn is nil when gRPC is disabled.
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	if g.grpcServer == nil {
		return nil, httpLn, nil
	}
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning an error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run serves until ctx is canceled or a server fails, then shuts down.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		g.closeComponents()
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "forgestate", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg, grpcLn)
	if err != nil {
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig, grpcLn net.Listener) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener(grpcLn)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener(grpcLn net.Listener) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases everything behind the servers. The actor goes
// first so no write reaches a closed store.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.states != nil {
		errs = appendCloseError(errs, "state actor close", g.states.Close())
	}
	if g.docs != nil {
		errs = appendCloseError(errs, "store close", g.docs.Close())
	}
	if g.publisher != nil {
		errs = appendCloseError(errs, "publisher close", g.publisher.Close())
	}
	if g.idempotency != nil {
		g.idempotency.Close()
	}
	return errs
}

// Shutdown gracefully stops all servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = append(errs, g.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the document store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.docs.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
