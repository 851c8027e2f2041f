package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kwv/meshicp/mesh"
)

// App encapsulates the application state and dependencies
type App struct {
	Options AppOptions
	Config  mesh.Config
	Logger  *zap.Logger

	Registry   *prometheus.Registry
	Metrics    *mesh.Metrics
	MQTTClient *mesh.MQTTClient
	Publisher  *mesh.Publisher
	Results    *mesh.ResultCache

	Out io.Writer

	resultsMu sync.Mutex
}

// NewApp creates an App with default configuration writing reports to out
func NewApp(out io.Writer) *App {
	reg := prometheus.NewRegistry()
	return &App{
		Config:   mesh.DefaultConfig(),
		Logger:   zap.NewNop(),
		Registry: reg,
		Metrics:  mesh.NewMetrics(reg),
		Out:      out,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.Options = opts
}

// setup loads the configuration file, applies command-line overrides and builds the logger
func (a *App) setup() error {
	if a.Options.ConfigFile != "" {
		cfg, err := mesh.LoadConfig(a.Options.ConfigFile)
		if err != nil {
			return err
		}
		a.Config = *cfg
	}

	opts := a.Options
	if opts.LogLevel != "" {
		a.Config.LogLevel = opts.LogLevel
	}
	if opts.Strategy != "" {
		a.Config.Strategy = opts.Strategy
	}
	if opts.Index != "" {
		a.Config.Index = opts.Index
	}
	if opts.MaxIterations != 0 {
		a.Config.Registration.MaxIterations = opts.MaxIterations
	}
	if opts.Tolerance != 0 {
		a.Config.Registration.Tolerance = opts.Tolerance
	}
	if opts.Similarity {
		a.Config.Registration.Rigid = false
	}
	if opts.NoMatchCentroids {
		a.Config.Registration.MatchCentroids = false
	}
	if opts.HTTPPort != 0 {
		a.Config.HTTP.Port = opts.HTTPPort
	}
	if err := a.Config.Validate(); err != nil {
		return err
	}

	logger, err := mesh.NewLogger(a.Config.LogLevel)
	if err != nil {
		return err
	}
	a.Logger = logger

	if opts.ResultsCache != "" {
		cache, err := mesh.LoadResults(opts.ResultsCache)
		if err != nil {
			a.Logger.Warn("ignoring unreadable results cache", zap.String("path", opts.ResultsCache), zap.Error(err))
		}
		if cache == nil {
			cache = mesh.NewResultCache()
		}
		a.Results = cache
	}
	return nil
}

// loadMesh reads a mesh from a file path or fetches it from an http(s) URL
func (a *App) loadMesh(ctx context.Context, ref string) (*mesh.TriangleMesh, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return mesh.FetchMeshFromAPI(ctx, ref, mesh.WithFetchLogger(a.Logger))
	}
	m, err := mesh.ParseMeshFile(ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return m, nil
}

// align runs the configured strategy, or the request's strategy and loop settings when given.
// Metrics are recorded for every run. The partial result of a failed run is returned with the error.
func (a *App) align(ctx context.Context, req mesh.RegistrationRequest, observer mesh.Observer) (*mesh.AlignmentResult, error) {
	name := req.Strategy
	if name == "" {
		name = a.Config.Strategy
	}
	cfg := a.Config.Registration
	if req.Config != nil {
		cfg = *req.Config
	}

	strategy, err := mesh.NewStrategy(name, a.Logger.With(zap.String("registration", req.Name)))
	if err != nil {
		return nil, err
	}
	if cf, ok := strategy.(*mesh.ClosedFormStrategy); ok {
		cf.Index = a.Config.Index
		cf.Observer = observer
	}

	start := time.Now()
	result, err := strategy.Align(ctx, req.Source, req.Target, cfg)
	a.Metrics.Observe(strategy.Name(), result, err, time.Since(start))
	if result != nil {
		result.Name = req.Name
	}
	return result, err
}

// storeResult records a finished run in the results cache and writes it out
func (a *App) storeResult(name string, result mesh.AlignmentResult) {
	if a.Results == nil || a.Options.ResultsCache == "" {
		return
	}
	a.resultsMu.Lock()
	defer a.resultsMu.Unlock()

	a.Results.Put(name, result)
	if err := mesh.SaveResults(a.Options.ResultsCache, a.Results); err != nil {
		a.Logger.Warn("failed to save results cache", zap.String("path", a.Options.ResultsCache), zap.Error(err))
	}
}

// RunRegister aligns --source onto --target and writes the requested outputs
func (a *App) RunRegister() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer func() { _ = a.Logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := a.loadMesh(ctx, a.Options.Source)
	if err != nil {
		return fmt.Errorf("loading source: %w", err)
	}
	target, err := a.loadMesh(ctx, a.Options.Target)
	if err != nil {
		return fmt.Errorf("loading target: %w", err)
	}

	req := mesh.RegistrationRequest{Name: a.Options.Name, Source: *source, Target: *target}
	result, err := a.align(ctx, req, nil)
	if err != nil {
		if result != nil {
			a.printResult(*result)
		}
		return fmt.Errorf("registration failed: %w", err)
	}
	a.printResult(*result)
	a.storeResult(a.Options.Name, *result)

	if a.Options.Output != "" {
		aligned := mesh.TriangleMesh{Points: result.Transform.ApplyAll(source.Points), Indices: source.Indices}
		if err := mesh.WriteMeshFile(a.Options.Output, aligned); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Aligned mesh written to %s\n", a.Options.Output)
	}

	if a.Options.Preview != "" {
		if err := writePreview(a.Options.Preview, *source, *target, *result); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Preview written to %s\n", a.Options.Preview)
	}
	return nil
}

// printResult writes a human-readable summary of one run
func (a *App) printResult(result mesh.AlignmentResult) {
	t := result.Transform
	fmt.Fprintf(a.Out, "=== %s (%s) ===\n", result.Name, result.Strategy)
	fmt.Fprintf(a.Out, "State: %s after %d iteration(s)\n", result.State, result.Iterations)
	fmt.Fprintf(a.Out, "Error: %.6g\n", result.Error)
	fmt.Fprintf(a.Out, "Scale: %.6g\n", t.Scale)
	for _, row := range t.Rotation {
		fmt.Fprintf(a.Out, "  [% .6f % .6f % .6f]\n", row[0], row[1], row[2])
	}
	fmt.Fprintf(a.Out, "Translation: (%.6g, %.6g, %.6g)\n", t.Translation.X, t.Translation.Y, t.Translation.Z)
}

// writePreview renders SVG or PNG depending on the file extension
func writePreview(path string, source, target mesh.TriangleMesh, result mesh.AlignmentResult) error {
	r := mesh.NewPreviewRenderer(source, target, result.Transform)
	r.Caption = mesh.PreviewCaption(result)

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		if err := r.RenderToPNG(&buf); err != nil {
			return fmt.Errorf("rendering PNG preview: %w", err)
		}
	case ".svg", "":
		if err := r.RenderToSVG(&buf); err != nil {
			return fmt.Errorf("rendering SVG preview: %w", err)
		}
	default:
		return fmt.Errorf("unsupported preview format %q (use .svg or .png)", filepath.Ext(path))
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating preview directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing preview: %w", err)
	}
	return nil
}

// RunServe runs the HTTP service, and the MQTT request listener when enabled, until interrupted
func (a *App) RunServe() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer func() { _ = a.Logger.Sync() }()

	if a.Options.MQTTMode {
		client := mesh.NewMQTTClient(a.Config.MQTT, a.Logger.Named("mqtt"), a.handleMQTTRequest)
		if client == nil {
			a.Logger.Warn("--mqtt given but no broker configured (set mqtt.broker or MQTT_BROKER)")
		} else {
			a.startMQTT(client)
			defer client.Disconnect()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", a.Config.HTTP.Port),
		Handler:           newHTTPServer(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP server starting", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	fmt.Fprintf(a.Out, "meshicp %s serving on %s\n", Version, server.Addr)
	fmt.Fprintln(a.Out, "  GET  /health")
	fmt.Fprintln(a.Out, "  POST /register")
	fmt.Fprintln(a.Out, "  POST /preview.svg, /preview.png")
	fmt.Fprintln(a.Out, "  GET  /metrics")
	if a.MQTTClient != nil {
		fmt.Fprintf(a.Out, "  MQTT requests on %s\n", a.MQTTClient.RequestTopic())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// startMQTT wires the publisher before the client connects,
// so every request delivered by the subscription sees it
func (a *App) startMQTT(client *mesh.MQTTClient) {
	a.MQTTClient = client
	a.Publisher = mesh.NewPublisher(client.GetClient(), client.Config().PublishPrefix, a.Logger.Named("publisher"))
	client.Start()
}

// handleMQTTRequest runs a registration received on <prefix>/requests/<name>
// and publishes progress and the result under the same name
func (a *App) handleMQTTRequest(name string, req *mesh.RegistrationRequest, err error) {
	if err != nil {
		a.Logger.Warn("rejected MQTT registration request", zap.String("name", name), zap.Error(err))
		return
	}

	var observer mesh.Observer
	if a.Publisher != nil {
		observer = a.Publisher.ProgressObserver(req.Name)
	}

	result, err := a.align(context.Background(), *req, observer)
	if err != nil {
		a.Logger.Warn("MQTT registration failed", zap.String("name", req.Name), zap.Error(err))
		if result == nil {
			return
		}
	} else {
		a.storeResult(req.Name, *result)
	}
	a.publishResult(req.Name, *result)
}

// publishResult sends result to MQTT when a publisher is configured
func (a *App) publishResult(name string, result mesh.AlignmentResult) {
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishResult(name, result); err != nil {
		a.Logger.Warn("failed to publish result", zap.String("name", name), zap.Error(err))
	}
}
