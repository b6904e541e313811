package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"drbgd/internal/config"
	"drbgd/internal/drbg"
	"drbgd/internal/entropy"
	"drbgd/internal/health"
	"drbgd/internal/mechanism"
	"drbgd/internal/pool"
)

func newFlagSet(a *app, name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: drbgctl %s %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func cmdGenerate(a *app, args []string) error {
	fs := newFlagSet(a, "generate", "[-n bytes] [-private] [-format hex|base64|raw] [-o file]")
	n := fs.Int64("n", 32, "number of bytes")
	private := fs.Bool("private", false, "use the private instance")
	format := fs.String("format", "hex", "output encoding: hex, base64 or raw")
	output := fs.String("o", "", "write to file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n < 0 {
		return fmt.Errorf("invalid byte count %d", *n)
	}

	h, err := a.hierarchy()
	if err != nil {
		return err
	}
	src := h.Public()
	if *private {
		src = h.Private()
	}

	var w io.Writer = a.stdout
	if *output != "" {
		f, err := os.OpenFile(*output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch *format {
	case "raw":
		_, err = io.CopyN(w, src, *n)
		return err
	case "hex":
		if _, err := io.CopyN(hex.NewEncoder(w), src, *n); err != nil {
			return err
		}
	case "base64":
		enc := base64.NewEncoder(base64.StdEncoding, w)
		if _, err := io.CopyN(enc, src, *n); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	_, err = fmt.Fprintln(w)
	return err
}

type statusReport struct {
	ForkGeneration uint32          `json:"fork_generation"`
	Instances      []drbg.Status   `json:"instances"`
	Entropy        []entropy.Stats `json:"entropy"`
}

func cmdStatus(a *app, args []string) error {
	fs := newFlagSet(a, "status", "[-json]")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	h, err := a.hierarchy()
	if err != nil {
		return err
	}
	report := statusReport{
		ForkGeneration: drbg.ForkGeneration(),
		Instances:      h.Status(),
		Entropy:        a.collector.Stats(),
	}

	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tMECHANISM\tSTATE\tSTRENGTH\tCOUNTER/LIMIT\tRESEED TIME\tPARENT")
	for _, s := range report.Instances {
		parent := s.Parent
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
			s.Name, s.Mechanism, s.State, s.Strength, s.Counter, s.ReseedInterval,
			s.ReseedTimeInterval, parent)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SOURCE\tBYTES\tERRORS\tHEALTH")
	for _, e := range report.Entropy {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", e.Name, e.BytesGenerated, e.Errors, e.HealthStatus)
	}
	return tw.Flush()
}

func cmdHealth(a *app, args []string) error {
	fs := newFlagSet(a, "health", "[-json] [-timeout duration]")
	asJSON := fs.Bool("json", false, "print JSON")
	timeout := fs.Duration("timeout", health.DefaultTimeout, "per-check timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	h, err := a.hierarchy()
	if err != nil {
		return err
	}
	checker := health.ForHierarchy(h, a.collector)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	report := checker.Run(ctx)

	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMPONENT\tSTATUS\tMESSAGE")
		for _, name := range report.Names() {
			r := report.Components[name]
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, r.Status, r.Message)
		}
		fmt.Fprintf(tw, "overall\t%s\t\n", report.Status)
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if report.Status == health.StatusUnhealthy {
		return errors.New("hierarchy is unhealthy")
	}
	return nil
}

// cmdSelftest runs the known-answer tests, asks every configured entropy
// source for a full-strength pool and exercises the hierarchy.
func cmdSelftest(a *app, args []string) error {
	fs := newFlagSet(a, "selftest", "")
	if err := fs.Parse(args); err != nil {
		return err
	}

	failed := 0
	report := func(name string, err error) {
		status := "PASS"
		if err != nil {
			status = "FAIL: " + err.Error()
			failed++
		}
		fmt.Fprintf(a.stdout, "%-40s %s\n", name, status)
	}

	for _, r := range mechanism.SelfTest() {
		report("kat/"+r.Name, r.Err)
	}

	col, err := a.cfg.EntropyCollector()
	if err != nil {
		return err
	}
	for _, src := range col.Sources() {
		report("entropy/"+src.Name(), checkSource(src))
	}
	col.Close()

	h, err := a.hierarchy()
	report("hierarchy/instantiate", err)
	if err == nil {
		report("hierarchy/generate", checkGenerate(h))
		report("hierarchy/propagation", checkPropagation(h))
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkSource(src entropy.Source) error {
	p, err := pool.New(256, 32, 128)
	if err != nil {
		return err
	}
	defer p.Free()
	if err := src.GetEntropy(p); err != nil {
		return err
	}
	if p.EntropyNeeded() > 0 {
		return fmt.Errorf("only %d of 256 bits", p.Entropy())
	}
	return nil
}

func checkGenerate(h *drbg.Hierarchy) error {
	pub := make([]byte, 64)
	priv := make([]byte, 64)
	if err := h.Bytes(pub); err != nil {
		return err
	}
	if err := h.PrivBytes(priv); err != nil {
		return err
	}
	if bytes.Equal(pub, priv) {
		return errors.New("public and private outputs are equal")
	}
	if bytes.Equal(pub, make([]byte, len(pub))) {
		return errors.New("output is all zero")
	}
	return nil
}

// checkPropagation reseeds the master and checks that the next generate on
// each child reseeds it as well.
func checkPropagation(h *drbg.Hierarchy) error {
	before := h.Public().PropagationCounter()
	if err := h.Master().Reseed(nil); err != nil {
		return err
	}
	if err := h.Bytes(make([]byte, 16)); err != nil {
		return err
	}
	if h.Public().PropagationCounter() == before {
		return errors.New("public instance did not reseed after master reseed")
	}
	return nil
}

func cmdSeed(a *app, args []string) error {
	fs := newFlagSet(a, "seed", "[-file path] [-entropy bits | -full]")
	file := fs.String("file", "-", "read seed data from file, - for stdin")
	bits := fs.Int("entropy", 0, "entropy credited to the data, in bits")
	full := fs.Bool("full", false, "credit the data with full entropy")
	limit := fs.Int("max", 1<<16, "maximum bytes to read")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	buf, err := io.ReadAll(io.LimitReader(r, int64(*limit)))
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return errors.New("no seed data")
	}

	h, err := a.hierarchy()
	if err != nil {
		return err
	}
	if *full {
		err = h.Seed(buf)
	} else {
		err = h.Add(buf, *bits)
	}
	clear(buf)
	if err != nil {
		return err
	}
	m := h.Master()
	fmt.Fprintf(a.stdout, "seeded %s with %d bytes (state %s, propagation %d)\n",
		m.Name(), len(buf), m.State(), m.PropagationCounter())
	return nil
}

// cmdWatch keeps the hierarchy alive, draws a sample every tick and
// applies reseed interval changes when the config file changes.
func cmdWatch(a *app, args []string) error {
	fs := newFlagSet(a, "watch", "[-tick duration] [-for duration]")
	tick := fs.Duration("tick", 10*time.Second, "interval between sample draws")
	limit := fs.Duration("for", 0, "stop after this long; 0 runs until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tick <= 0 {
		return fmt.Errorf("invalid tick %s", *tick)
	}

	h, err := a.hierarchy()
	if err != nil {
		return err
	}

	loader := config.NewLoader(a.cfgPath)
	if _, err := loader.Load(); err != nil {
		return err
	}
	loader.OnChange(func(old, cur *config.Config) {
		changes := config.Diff(old, cur)
		a.logger.Info("config reloaded", "path", a.cfgPath, "changes", changes)
		if a.audit != nil {
			for _, c := range changes {
				field, change, _ := strings.Cut(c, ": ")
				oldValue, newValue, _ := strings.Cut(change, " -> ")
				_ = a.audit.LogConfigChange(field, oldValue, newValue)
			}
		}
		if err := applyReseed(h, cur); err != nil {
			a.logger.Error("apply reseed intervals", "error", err)
		}
	})
	if err := loader.Watch(); err != nil {
		return err
	}
	defer loader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *limit)
		defer cancel()
	}

	checker := health.ForHierarchy(h, a.collector)
	last := health.StatusUnknown

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()
	sample := make([]byte, 32)
	a.logger.Info("watching", "path", a.cfgPath, "tick", *tick)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("watch stopped")
			return nil
		case err := <-loader.Errors():
			a.logger.Warn("config reload failed", "error", err)
		case <-ticker.C:
			if err := h.Bytes(sample); err != nil {
				a.logger.Error("generate failed", "error", err)
			}
			report := checker.Run(ctx)
			if report.Status != last {
				a.logger.Info("health changed", "from", last, "to", report.Status)
				last = report.Status
			}
			for _, name := range report.Names() {
				r := report.Components[name]
				a.logger.Debug("component", "component", name, "status", r.Status, "message", r.Message)
			}
		}
	}
}

// applyReseed pushes new reseed intervals to running instances and makes
// them the defaults for instances created later.
func applyReseed(h *drbg.Hierarchy, cfg *config.Config) error {
	if err := cfg.ApplyReseedDefaults(); err != nil {
		return err
	}
	masterTime := time.Duration(cfg.Reseed.MasterTimeSec) * time.Second
	childTime := time.Duration(cfg.Reseed.ChildTimeSec) * time.Second

	if err := h.Master().SetReseedInterval(cfg.Reseed.MasterInterval); err != nil {
		return err
	}
	if err := h.Master().SetReseedTimeInterval(masterTime); err != nil {
		return err
	}
	for _, d := range []*drbg.DRBG{h.Public(), h.Private()} {
		if err := d.SetReseedInterval(cfg.Reseed.ChildInterval); err != nil {
			return err
		}
		if err := d.SetReseedTimeInterval(childTime); err != nil {
			return err
		}
	}
	return nil
}
