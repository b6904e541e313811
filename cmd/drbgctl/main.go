// drbgctl is the command-line front end for the drbgd DRBG hierarchy.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"drbgd/internal/config"
	"drbgd/internal/drbg"
	"drbgd/internal/entropy"
	"drbgd/internal/logging"
	"drbgd/internal/metrics"
	"drbgd/internal/trace"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type command func(a *app, args []string) error

var commands = map[string]command{
	"generate": cmdGenerate,
	"status":   cmdStatus,
	"health":   cmdHealth,
	"selftest": cmdSelftest,
	"seed":     cmdSeed,
	"watch":    cmdWatch,
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("drbgctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() < 1 {
		usage(stderr)
		return 2
	}
	name := fs.Arg(0)
	switch name {
	case "help":
		usage(stdout)
		return 0
	case "version":
		fmt.Fprintf(stdout, "drbgctl %s\n", Version)
		return 0
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", name)
		usage(stderr)
		return 2
	}

	a, err := newApp(*configPath, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	err = cmd(a, fs.Args()[1:])
	if cerr := a.close(name); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(stderr, "drbgctl %s: %v\n", name, err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `drbgctl - Deterministic random bit generator control utility

Usage: drbgctl [options] <command> [args]

Commands:
  generate        Write random bytes from the public or private instance
  status          Show the state of every instance and entropy source
  health          Run instance and entropy source health checks
  selftest        Run known-answer, entropy source and hierarchy checks
  seed            Mix caller-supplied data into the hierarchy
  watch           Keep the hierarchy running and apply config reloads
  version         Print the version
  help            Show this help message

Options:
  -config <path>  Path to config file (default: config.{toml,json,yaml} in
                  the current or platform config directory)

Run 'drbgctl <command> -h' for command options.`)
}

// app holds what every command needs. The hierarchy is created on first
// use so commands that do not generate do not draw entropy.
type app struct {
	cfgPath string
	cfg     *config.Config
	stdout  io.Writer
	stderr  io.Writer

	logger    *logging.Logger
	audit     *logging.AuditLogger
	registry  *metrics.Registry
	sink      trace.Sink
	collector *entropy.Collector
	hier      *drbg.Hierarchy
}

func newApp(cfgPath string, stdout, stderr io.Writer) (*app, error) {
	if cfgPath == "" {
		cfgPath = config.FindConfigFile()
	}
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	lc, err := cfg.LoggerConfig()
	if err != nil {
		return nil, err
	}
	if lc.Output == "stderr" {
		lc.Writer = stderr
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logging.SetDefault(logger)

	a := &app{
		cfgPath:  cfgPath,
		cfg:      cfg,
		stdout:   stdout,
		stderr:   stderr,
		logger:   logger,
		registry: metrics.NewRegistry("drbgd"),
	}
	metrics.SetDefault(a.registry)

	for _, w := range config.Check(cfg).Warnings() {
		logger.Warn("config warning", "field", w.Field, "message", w.Message)
	}

	if a.sink, err = cfg.TraceSink(logger.Logger); err != nil {
		a.close("")
		return nil, err
	}

	if cfg.Audit.Enabled {
		audit, err := logging.NewAuditLogger(&logging.AuditConfig{
			FilePath:        cfg.Audit.FilePath,
			MaxSize:         50,
			MaxBackups:      10,
			Component:       "drbgctl",
			IncludeGenerate: cfg.Audit.IncludeGenerate,
		})
		if err != nil {
			a.close("")
			return nil, err
		}
		a.audit = audit
		_ = audit.LogStartup(Version, map[string]any{"config": cfgPath})
	}

	if err := cfg.ApplyReseedDefaults(); err != nil {
		a.close("")
		return nil, err
	}
	return a, nil
}

// hierarchy builds and instantiates the master, public and private
// instances on first call.
func (a *app) hierarchy() (*drbg.Hierarchy, error) {
	if a.hier != nil {
		return a.hier, nil
	}

	hc, err := a.cfg.HierarchyConfig()
	if err != nil {
		return nil, err
	}
	col, err := a.cfg.EntropyCollector()
	if err != nil {
		return nil, err
	}

	observers := drbg.Observers{metrics.NewDRBGObserver(a.registry)}
	if a.audit != nil {
		observers = append(observers, a.audit)
	}
	hc.Entropy = col
	hc.Trace = a.sink
	hc.Observer = observers

	h, err := drbg.NewHierarchy(hc)
	if err != nil {
		col.Close()
		return nil, err
	}
	a.collector = col
	a.hier = h
	a.logger.Debug("hierarchy ready", "type", hc.Type, "sources", a.cfg.Entropy.Sources)
	return h, nil
}

// close releases the hierarchy and log files and, when enabled, writes the
// metrics registry to stderr.
func (a *app) close(cmd string) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.hier != nil {
		keep(a.hier.Close())
		a.hier = nil
	}
	if a.collector != nil {
		keep(a.collector.Close())
		a.collector = nil
	}

	if a.cfg != nil && a.cfg.Metrics.Enabled && cmd != "" {
		if a.cfg.Metrics.Format == "json" {
			keep(a.registry.WriteJSON(a.stderr))
		} else {
			keep(a.registry.WritePrometheus(a.stderr))
		}
	}

	if a.audit != nil {
		_ = a.audit.LogShutdown(cmd + " done")
		keep(a.audit.Err())
		keep(a.audit.Close())
		a.audit = nil
	}
	if a.logger != nil {
		keep(a.logger.Close())
	}
	return firstErr
}
