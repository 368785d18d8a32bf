package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/undulator/internal/config"
	"github.com/banshee-data/undulator/internal/journal"
	"github.com/banshee-data/undulator/internal/lut"
	"github.com/banshee-data/undulator/internal/motion"
	"github.com/banshee-data/undulator/internal/remote"
	"github.com/banshee-data/undulator/internal/serialmux"
	"github.com/banshee-data/undulator/internal/sim"
	"github.com/banshee-data/undulator/internal/undulator"
)

// syncTimeout bounds the initial position poll of controller axes.
const syncTimeout = 5 * time.Second

// system is everything one configuration builds: axes, calculator, journal
// and the background routines that serve a controller link.
type system struct {
	cfg     *config.Config
	locks   *motion.LockTable
	axes    undulator.Axes
	homes   map[string]float64
	calc    *undulator.Calculator
	journal *journal.Journal

	opener   serialmux.SerialPortOpener
	link     *serialmux.SerialMux[serialmux.SerialPorter]
	emulator *remote.Emulator
	remotes  []*remote.Axis

	group  *errgroup.Group
	cancel context.CancelFunc
}

// build assembles cfg. opener opens serial ports; nil selects the real one.
func build(ctx context.Context, cfg *config.Config, opener serialmux.SerialPortOpener) (_ *system, err error) {
	tables, err := lut.ParseFile(cfg.LookupTablePath())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &system{cfg: cfg, locks: motion.NewLockTable(), homes: map[string]float64{}, opener: opener, cancel: cancel}
	s.group, ctx = errgroup.WithContext(ctx)
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.Close())
		}
	}()

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.axes.Gap = s.newAxis(&cfg.Axes.Gap)
	s.axes.MutualPhase = s.newAxis(cfg.Axes.MutualPhase)
	if cfg.Axes.OpposingPhase != nil {
		s.axes.OpposingPhase = s.newAxis(cfg.Axes.OpposingPhase)
	}
	for _, a := range s.remotes {
		s.group.Go(func() error { return ignoreCanceled(a.Run(ctx)) })
	}
	if err := s.sync(ctx); err != nil {
		return nil, err
	}

	mutualZone, _ := cfg.GetMutualZone()
	opposingZone, _ := cfg.GetOpposingZone()
	watchers := motion.Watchers{motion.WatcherFunc(func(source string, err error) {
		log.Printf("move on %s failed: %v", source, err)
	})}
	if path := cfg.GetJournal(); path != "" {
		if s.journal, err = journal.Open(path); err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		watchers = append(watchers, s.journal)
	}

	s.calc, err = undulator.New(undulator.Options{
		Name:         cfg.GetName(),
		Tables:       tables,
		Axes:         s.axes,
		Locks:        s.locks,
		MutualZone:   mutualZone,
		OpposingZone: opposingZone,
		Policy:       cfg.GetPolicy(),
		Tolerance:    cfg.GetTolerance(),
		Watcher:      watchers,
	})
	if err != nil {
		return nil, err
	}
	s.calc.AddStateWatcher(undulator.StateWatcherFunc(func(st undulator.State) {
		log.Printf("undulator state: current=%s stale=%t", st.Current, st.Stale)
	}))

	if s.journal != nil {
		s.calc.Virtual().AddObserver(s.journal)
		for _, a := range s.calc.Virtual().Dependents() {
			a.AddObserver(s.journal)
		}
	}
	return s, nil
}

// connect opens the controller link for serial and emulator transports.
func (s *system) connect(ctx context.Context) error {
	t := s.cfg.GetTransport()
	switch t.Kind {
	case config.TransportSerial:
		link, err := serialmux.Open(t.Port, t.Options, s.opener)
		if err != nil {
			return fmt.Errorf("failed to open controller port: %w", err)
		}
		s.link = link
	case config.TransportEmulator:
		port, dev := serialmux.NewPipePort()
		s.link = serialmux.NewSerialMux[serialmux.SerialPorter](port)
		initial := map[string]float64{}
		for _, ac := range s.axisConfigs() {
			initial[ac.Name] = ac.GetInitial()
		}
		s.emulator = remote.NewEmulator(dev, initial)
		s.emulator.Delay = t.GetEmulatorDelay()
		s.group.Go(func() error { return ignoreCanceled(s.emulator.Run(ctx)) })
	default:
		return nil
	}
	s.group.Go(func() error { return ignoreCanceled(s.link.Monitor(ctx)) })
	return nil
}

func (s *system) axisConfigs() []*config.AxisConfig {
	out := []*config.AxisConfig{&s.cfg.Axes.Gap, s.cfg.Axes.MutualPhase}
	if s.cfg.Axes.OpposingPhase != nil {
		out = append(out, s.cfg.Axes.OpposingPhase)
	}
	return out
}

func (s *system) newAxis(ac *config.AxisConfig) motion.Axis {
	s.homes[ac.Name] = ac.GetHome()
	lower, upper := ac.GetLimits()
	if s.link == nil {
		return sim.New(sim.Config{
			Name:    ac.Name,
			Unit:    ac.GetUnit(),
			Lower:   lower,
			Upper:   upper,
			Speed:   ac.GetSpeed(),
			Initial: ac.GetInitial(),
		}, s.locks)
	}
	a := remote.New(remote.Config{Name: ac.Name, Unit: ac.GetUnit(), Lower: lower, Upper: upper}, s.locks, s.link)
	s.remotes = append(s.remotes, a)
	return a
}

// sync reads the starting position of every controller axis.
func (s *system) sync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	var err error
	for _, a := range s.remotes {
		err = multierr.Append(err, a.Sync(ctx))
	}
	return err
}

// home homes the phase axes and then the gap, one at a time.
func (s *system) home(ctx context.Context) error {
	order := []motion.Axis{s.axes.MutualPhase}
	if s.axes.OpposingPhase != nil {
		order = append(order, s.axes.OpposingPhase)
	}
	order = append(order, s.axes.Gap)

	for _, a := range order {
		cmd := motion.NewHomeCommand(a, s.homes[a.Name()])
		if err := cmd.Execute(ctx); err != nil {
			return err
		}
		if err := cmd.Wait(ctx); err != nil {
			if errors.Is(err, motion.ErrInterrupted) {
				if serr := a.Stop(); serr != nil {
					log.Printf("failed to stop %s after interrupted homing: %v", a.Name(), serr)
				}
			}
			return err
		}
		log.Printf("homed %s at %s", a.Name(), a.Position())
	}
	return nil
}

// Close stops the background routines and releases the link and journal.
func (s *system) Close() error {
	s.cancel()
	var err error
	if s.link != nil {
		err = multierr.Append(err, s.link.Close())
	}
	if gerr := s.group.Wait(); gerr != nil && !errors.Is(gerr, remote.ErrLinkClosed) {
		err = multierr.Append(err, gerr)
	}
	if s.journal != nil {
		err = multierr.Append(err, s.journal.Close())
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
