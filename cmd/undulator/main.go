// Command undulator drives an undulator through its energy virtual axis:
// it plans or runs coordinated moves, refreshes the cached state from live
// axis positions, homes the axes and serves the debug endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/undulator/internal/config"
	"github.com/banshee-data/undulator/internal/monitoring"
	"github.com/banshee-data/undulator/internal/undulator"
	"github.com/banshee-data/undulator/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

type options struct {
	configPath   string
	energy       string
	harmonic     string
	polarization string
	check        bool
	refresh      bool
	home         bool
	serve        bool
	listen       string
	verbose      bool
	timeout      time.Duration
	version      bool
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("undulator", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.configPath, "config", config.DefaultConfigPath, "Path to the JSON configuration")
	fs.StringVar(&o.energy, "energy", "", "Move to this photon energy in eV")
	fs.StringVar(&o.harmonic, "harmonic", "1", "Harmonic of the requested energy")
	fs.StringVar(&o.polarization, "polarization", "LH", "Polarization: LH, LV, CR, CL or \"LA <angle>\"")
	fs.BoolVar(&o.check, "check", false, "Plan the move and print its route without moving")
	fs.BoolVar(&o.refresh, "refresh", false, "Re-derive the state from live axis positions")
	fs.BoolVar(&o.home, "home", false, "Home every axis before anything else")
	fs.BoolVar(&o.serve, "serve", false, "Serve the debug endpoints until interrupted")
	fs.StringVar(&o.listen, "listen", "", "Listen address, overriding the configuration")
	fs.BoolVar(&o.verbose, "verbose", false, "Log per-event motion traces")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Minute, "Give up on a move after this long and stop the axes")
	fs.BoolVar(&o.version, "version", false, "Print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.check && o.energy == "" {
		return nil, errors.New("-check needs -energy")
	}
	if o.timeout <= 0 {
		return nil, fmt.Errorf("-timeout must be positive, got %s", o.timeout)
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) (err error) {
	o, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintln(stdout, version.String("undulator"))
		return nil
	}
	monitoring.SetVerbose(o.verbose)

	var req undulator.Request
	if o.energy != "" {
		if req, err = undulator.ParseRequest(o.energy, o.harmonic, o.polarization); err != nil {
			return err
		}
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	sys, err := build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sys.Close()) }()

	if o.home {
		if err := sys.home(ctx); err != nil {
			return fmt.Errorf("homing failed: %w", err)
		}
	}
	if o.refresh {
		if _, err := sys.calc.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
	}

	switch {
	case o.check:
		if err := check(sys.calc, req, stdout); err != nil {
			return err
		}
	case o.energy != "":
		if err := move(ctx, sys.calc, req, o.timeout); err != nil {
			return err
		}
	}
	printState(stdout, sys.calc)

	if o.serve {
		addr := cfg.GetListen()
		if o.listen != "" {
			addr = o.listen
		}
		return serve(ctx, sys, addr)
	}
	return nil
}

func check(calc *undulator.Calculator, req undulator.Request, out io.Writer) error {
	p, err := calc.Plan(req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "plan %s: %s=%g %s=%g\n", req, p.Gap.Name(), p.Target.X, p.Phase.Name(), p.Target.Y)
	if p.Decision.Crosses {
		fmt.Fprintln(out, "  direct path crosses the forbidden zone, routing around it")
	}
	for i, l := range p.Legs() {
		fmt.Fprintf(out, "  leg %d: %s -> %g, %s -> %g\n", i+1, p.Gap.Name(), l.A, p.Phase.Name(), l.B)
	}
	return nil
}

// move runs req to completion. When timeout passes first the axes are
// stopped and the wait error is returned together with the move's result,
// usually the STOPPED execution failure of the leg in flight.
func move(ctx context.Context, calc *undulator.Calculator, req undulator.Request, timeout time.Duration) error {
	mm, err := calc.MoveTo(ctx, req)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := mm.Wait(waitCtx); err != nil {
		if waitCtx.Err() == nil {
			return err
		}
		log.Printf("move to %s did not finish in %s, stopping", req, timeout)
		if serr := calc.Stop(); serr != nil {
			err = multierr.Append(err, serr)
		}
		<-mm.Done()
		return multierr.Append(err, mm.Err())
	}
	return nil
}

func printState(out io.Writer, calc *undulator.Calculator) {
	switch s := calc.State(); {
	case !s.Known:
		fmt.Fprintln(out, "state unknown")
	case s.Stale:
		fmt.Fprintf(out, "state %s (stale)\n", s.Current)
	default:
		fmt.Fprintf(out, "state %s\n", s.Current)
	}
	v := calc.Virtual()
	fmt.Fprintf(out, "  %s = %s\n", v.Name(), v.Position())
	for _, a := range v.Dependents() {
		fmt.Fprintf(out, "  %s = %s\n", a.Name(), a.Position())
	}
}

func newHandler(sys *system) (http.Handler, error) {
	mux := http.NewServeMux()
	sys.calc.AttachAdminRoutes(mux)
	if sys.journal != nil {
		if err := sys.journal.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	if sys.link != nil {
		sys.link.AttachAdminRoutes(mux)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("got request %s %q", r.Method, r.URL.Path)
		mux.ServeHTTP(w, r)
	}), nil
}

// serve runs the debug server until ctx ends.
func serve(ctx context.Context, sys *system, addr string) error {
	if addr == "" {
		return errors.New("-serve needs a listen address")
	}
	h, err := newHandler(sys)
	if err != nil {
		return err
	}
	server := &http.Server{Addr: addr, Handler: h}

	errc := make(chan error, 1)
	go func() {
		log.Printf("serving debug endpoints on http://%s/debug/", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		return server.Close()
	}
	return nil
}
