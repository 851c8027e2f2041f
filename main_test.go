package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunRegister() error           { m.called["RunRegister"] = true; return m.err }
func (m *mockApp) RunServe() error              { m.called["RunServe"] = true; return m.err }

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Register",
			args:           []string{"register", "--source", "a.json", "--target", "b.json"},
			expectedCalled: "RunRegister",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Source != "a.json" || opts.Target != "b.json" {
					t.Errorf("expected a.json -> b.json, got %s -> %s", opts.Source, opts.Target)
				}
				if opts.Name != "default" {
					t.Errorf("expected Name default, got %s", opts.Name)
				}
				if opts.ResultsCache != ".registration-cache.json" {
					t.Errorf("expected default results cache, got %s", opts.ResultsCache)
				}
				if opts.MaxIterations != 0 || opts.Tolerance != 0 {
					t.Errorf("expected unset loop overrides, got %d / %g", opts.MaxIterations, opts.Tolerance)
				}
			},
		},
		{
			name: "RegisterOverrides",
			args: []string{"--config", "cfg.yaml", "--log-level", "debug",
				"register", "-s", "http://host/a", "-t", "b.json",
				"--name", "scan-7", "-o", "out.json", "--preview", "p.svg",
				"--strategy", "centroid", "--index", "brute",
				"--max-iterations", "15", "--tolerance", "0.01",
				"--similarity", "--no-match-centroids"},
			expectedCalled: "RunRegister",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "cfg.yaml" {
					t.Errorf("expected ConfigFile cfg.yaml, got %s", opts.ConfigFile)
				}
				if opts.LogLevel != "debug" {
					t.Errorf("expected LogLevel debug, got %s", opts.LogLevel)
				}
				if opts.Source != "http://host/a" {
					t.Errorf("expected URL source, got %s", opts.Source)
				}
				if opts.Name != "scan-7" || opts.Output != "out.json" || opts.Preview != "p.svg" {
					t.Errorf("unexpected outputs: %+v", opts)
				}
				if opts.Strategy != "centroid" || opts.Index != "brute" {
					t.Errorf("expected centroid/brute, got %s/%s", opts.Strategy, opts.Index)
				}
				if opts.MaxIterations != 15 {
					t.Errorf("expected MaxIterations 15, got %d", opts.MaxIterations)
				}
				if opts.Tolerance != 0.01 {
					t.Errorf("expected Tolerance 0.01, got %f", opts.Tolerance)
				}
				if !opts.Similarity || !opts.NoMatchCentroids {
					t.Error("expected Similarity and NoMatchCentroids true")
				}
			},
		},
		{
			name:           "Serve",
			args:           []string{"serve", "--mqtt", "--http-port", "9090"},
			expectedCalled: "RunServe",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MQTTMode {
					t.Error("expected MQTTMode true")
				}
				if opts.HTTPPort != 9090 {
					t.Errorf("expected HTTPPort 9090, got %d", opts.HTTPPort)
				}
				if opts.ResultsCache != "" {
					t.Errorf("expected no results cache, got %s", opts.ResultsCache)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_RegisterRequiresMeshes(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"register", "--source", "a.json"}, &out, app); err == nil {
		t.Error("expected error for missing --target, got nil")
	}
	if app.called["RunRegister"] {
		t.Error("RunRegister should not be called")
	}
}

func TestRun_PropagatesErrors(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	var out bytes.Buffer
	err := run([]string{"serve"}, &out, app)
	if err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--help"}, &out, app); err != nil {
		t.Fatalf("run --help: %v", err)
	}
	for _, want := range []string{"meshicp", "register", "serve", "version"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in usage, got: %s", want, out.String())
		}
	}
	if len(app.called) != 0 {
		t.Errorf("help should not run a command, called %v", app.called)
	}
}

func TestRun_Version(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"version"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expected := "meshicp version: " + Version
	if !strings.Contains(out.String(), expected) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
