package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kwv/meshicp/mesh"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Runner executes the commands selected on the command line
type Runner interface {
	ApplyOptions(AppOptions)
	RunRegister() error
	RunServe() error
}

// AppOptions carries every command-line setting.
// Zero values mean "use the configuration file".
type AppOptions struct {
	ConfigFile string
	LogLevel   string

	Source           string
	Target           string
	Name             string
	Output           string
	Preview          string
	ResultsCache     string
	Strategy         string
	Index            string
	MaxIterations    int
	Tolerance        float64
	Similarity       bool
	NoMatchCentroids bool

	HTTPPort int
	MQTTMode bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		fmt.Fprintf(os.Stderr, "meshicp: %v\n", err)
		os.Exit(1)
	}
}

// run parses args and dispatches to app. It never calls os.Exit.
func run(args []string, out io.Writer, app Runner) error {
	global := func(c *cli.Context) AppOptions {
		return AppOptions{
			ConfigFile: c.String("config"),
			LogLevel:   c.String("log-level"),
		}
	}

	cliApp := &cli.App{
		Name:        "meshicp",
		Usage:       "align 3-D meshes with iterative closest point",
		HideVersion: true,
		Writer:      out,
		ErrWriter:   out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides config)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "align a source mesh onto a target mesh",
				UsageText: "meshicp register --source a.json --target b.json [options]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "source mesh file or http(s) URL"},
					&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Required: true, Usage: "target mesh file or http(s) URL"},
					&cli.StringFlag{Name: "name", Value: "default", Usage: "name stored in the results cache"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the aligned source mesh here"},
					&cli.StringFlag{Name: "preview", Usage: "write an .svg or .png preview here"},
					&cli.StringFlag{Name: "results", Value: mesh.DefaultResultsCachePath, Usage: "results cache file (empty disables)"},
					&cli.StringFlag{Name: "strategy", Usage: "closed-form or centroid"},
					&cli.StringFlag{Name: "index", Usage: "kdtree or brute"},
					&cli.IntFlag{Name: "max-iterations", Usage: "upper bound on solve steps"},
					&cli.Float64Flag{Name: "tolerance", Usage: "stop when the error change falls to this"},
					&cli.BoolFlag{Name: "similarity", Usage: "estimate a uniform scale"},
					&cli.BoolFlag{Name: "no-match-centroids", Usage: "start from the identity transform"},
				},
				Action: func(c *cli.Context) error {
					opts := global(c)
					opts.Source = c.String("source")
					opts.Target = c.String("target")
					opts.Name = c.String("name")
					opts.Output = c.String("output")
					opts.Preview = c.String("preview")
					opts.ResultsCache = c.String("results")
					opts.Strategy = c.String("strategy")
					opts.Index = c.String("index")
					opts.MaxIterations = c.Int("max-iterations")
					opts.Tolerance = c.Float64("tolerance")
					opts.Similarity = c.Bool("similarity")
					opts.NoMatchCentroids = c.Bool("no-match-centroids")
					app.ApplyOptions(opts)
					return app.RunRegister()
				},
			},
			{
				Name:  "serve",
				Usage: "run the HTTP registration service",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "http-port", Usage: "HTTP server port (overrides config)"},
					&cli.BoolFlag{Name: "mqtt", Usage: "accept requests and publish results over MQTT"},
					&cli.StringFlag{Name: "results", Usage: "results cache file (empty disables)"},
				},
				Action: func(c *cli.Context) error {
					opts := global(c)
					opts.HTTPPort = c.Int("http-port")
					opts.MQTTMode = c.Bool("mqtt")
					opts.ResultsCache = c.String("results")
					app.ApplyOptions(opts)
					return app.RunServe()
				},
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprintf(out, "meshicp version: %s\n", Version)
					return err
				},
			},
		},
	}

	return cliApp.Run(append([]string{"meshicp"}, args...))
}
