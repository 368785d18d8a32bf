// Package config loads the JSON runtime configuration of an undulator: its
// axes, lookup tables, forbidden zones, journal and controller transport.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/undulator/internal/route"
	"github.com/banshee-data/undulator/internal/serialmux"
)

// DefaultConfigPath is the example configuration shipped with the repository.
const DefaultConfigPath = "config/undulator.example.json"

// Transport kinds.
const (
	TransportSim      = "sim"
	TransportSerial   = "serial"
	TransportEmulator = "emulator"
)

// Config is the root configuration. Optional values are pointers; the Get*
// methods supply defaults for anything left out of the file.
type Config struct {
	Name         *string          `json:"name,omitempty"`
	Axes         AxesConfig       `json:"axes"`
	LookupTable  string           `json:"lookup_table"`
	MutualZone   *string          `json:"mutual_zone,omitempty"`
	OpposingZone *string          `json:"opposing_zone,omitempty"`
	Policy       *string          `json:"policy,omitempty"`
	Tolerance    *float64         `json:"tolerance,omitempty"`
	Journal      *string          `json:"journal,omitempty"`
	Listen       *string          `json:"listen,omitempty"`
	Transport    *TransportConfig `json:"transport,omitempty"`

	// dir is where the file was loaded from; relative paths resolve
	// against it.
	dir string
}

// AxesConfig names the physical axes. OpposingPhase is optional.
type AxesConfig struct {
	Gap           AxisConfig  `json:"gap"`
	MutualPhase   *AxisConfig `json:"mutual_phase,omitempty"`
	OpposingPhase *AxisConfig `json:"opposing_phase,omitempty"`
}

// AxisConfig describes one physical axis.
type AxisConfig struct {
	Name    string   `json:"name"`
	Unit    *string  `json:"unit,omitempty"`
	Lower   *float64 `json:"lower,omitempty"`
	Upper   *float64 `json:"upper,omitempty"`
	Speed   *float64 `json:"speed,omitempty"` // simulated units per second
	Initial *float64 `json:"initial,omitempty"`
	Home    *float64 `json:"home,omitempty"` // position assigned after homing
}

// TransportConfig selects how axes are reached.
type TransportConfig struct {
	Kind          string                `json:"kind,omitempty"`
	Port          string                `json:"port,omitempty"`
	Options       serialmux.PortOptions `json:"options,omitempty"`
	EmulatorDelay *string               `json:"emulator_delay,omitempty"` // duration string like "200ms"
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// LoadConfig reads and validates a configuration file. The file must have a
// .json extension and be at most 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	cfg.dir = filepath.Dir(cleanPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot be used.
func (c *Config) Validate() error {
	if c.LookupTable == "" {
		return fmt.Errorf("lookup_table is required")
	}

	seen := map[string]string{c.GetName(): "name"}
	check := func(role string, a *AxisConfig) error {
		if a == nil {
			return nil
		}
		if a.Name == "" {
			return fmt.Errorf("axes.%s.name is required", role)
		}
		if other, dup := seen[a.Name]; dup {
			return fmt.Errorf("axes.%s.name %q is already used by %s", role, a.Name, other)
		}
		seen[a.Name] = "axes." + role
		if a.Lower != nil && a.Upper != nil && *a.Lower >= *a.Upper {
			return fmt.Errorf("axes.%s: lower %g must be below upper %g", role, *a.Lower, *a.Upper)
		}
		if a.Speed != nil && *a.Speed < 0 {
			return fmt.Errorf("axes.%s.speed must be non-negative, got %g", role, *a.Speed)
		}
		return nil
	}
	if err := check("gap", &c.Axes.Gap); err != nil {
		return err
	}
	if err := check("mutual_phase", c.Axes.MutualPhase); err != nil {
		return err
	}
	if err := check("opposing_phase", c.Axes.OpposingPhase); err != nil {
		return err
	}
	if c.Axes.MutualPhase == nil {
		return fmt.Errorf("axes.mutual_phase is required")
	}

	if _, err := c.GetMutualZone(); err != nil {
		return err
	}
	if c.MutualZone != nil && c.Axes.MutualPhase == nil {
		return fmt.Errorf("mutual_zone needs axes.mutual_phase")
	}
	if _, err := c.GetOpposingZone(); err != nil {
		return err
	}
	if c.OpposingZone != nil && c.Axes.OpposingPhase == nil {
		return fmt.Errorf("opposing_zone needs axes.opposing_phase")
	}

	if c.Policy != nil {
		if _, err := route.ParsePolicy(*c.Policy); err != nil {
			return err
		}
	}
	if c.Tolerance != nil && *c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", *c.Tolerance)
	}

	if t := c.Transport; t != nil {
		switch t.Kind {
		case "", TransportSim, TransportEmulator:
		case TransportSerial:
			if t.Port == "" {
				return fmt.Errorf("transport.port is required for serial transport")
			}
		default:
			return fmt.Errorf("unknown transport.kind %q", t.Kind)
		}
		if _, err := t.Options.Normalize(); err != nil {
			return fmt.Errorf("transport.options: %w", err)
		}
		if t.EmulatorDelay != nil && *t.EmulatorDelay != "" {
			if _, err := time.ParseDuration(*t.EmulatorDelay); err != nil {
				return fmt.Errorf("invalid transport.emulator_delay '%s': %w", *t.EmulatorDelay, err)
			}
		}
	}
	return nil
}

// GetName returns the virtual energy axis name.
func (c *Config) GetName() string {
	if c.Name == nil || *c.Name == "" {
		return "energy"
	}
	return *c.Name
}

// LookupTablePath resolves lookup_table against the config file directory.
func (c *Config) LookupTablePath() string {
	return c.resolve(c.LookupTable)
}

// GetJournal returns the resolved journal path, or "" when journaling is off.
func (c *Config) GetJournal() string {
	if c.Journal == nil || *c.Journal == "" {
		return ""
	}
	return c.resolve(*c.Journal)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// GetListen returns the debug HTTP listen address, or "" when disabled.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ""
	}
	return *c.Listen
}

// GetPolicy returns the route policy, direct-only by default.
func (c *Config) GetPolicy() route.Policy {
	if c.Policy == nil {
		return route.PolicyDirectOnly
	}
	p, err := route.ParsePolicy(*c.Policy)
	if err != nil {
		return route.PolicyDirectOnly
	}
	return p
}

// GetTolerance returns the refresh drift tolerance.
func (c *Config) GetTolerance() float64 {
	if c.Tolerance == nil {
		return 0.01
	}
	return *c.Tolerance
}

// GetMutualZone parses mutual_zone. A missing zone returns nil.
func (c *Config) GetMutualZone() (*route.Zone, error) {
	return parseZone(c.MutualZone)
}

// GetOpposingZone parses opposing_zone. A missing zone returns nil.
func (c *Config) GetOpposingZone() (*route.Zone, error) {
	return parseZone(c.OpposingZone)
}

func parseZone(s *string) (*route.Zone, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	z, err := route.ParseZone(*s)
	if err != nil {
		return nil, err
	}
	return &z, nil
}

// GetTransport returns the transport, simulated when unset.
func (c *Config) GetTransport() TransportConfig {
	if c.Transport == nil {
		return TransportConfig{Kind: TransportSim}
	}
	t := *c.Transport
	if t.Kind == "" {
		t.Kind = TransportSim
	}
	return t
}

// GetEmulatorDelay returns how long emulated moves take.
func (t TransportConfig) GetEmulatorDelay() time.Duration {
	if t.EmulatorDelay == nil || *t.EmulatorDelay == "" {
		return 200 * time.Millisecond
	}
	d, err := time.ParseDuration(*t.EmulatorDelay)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// GetUnit returns the engineering unit, millimetres by default.
func (a *AxisConfig) GetUnit() string {
	if a.Unit == nil {
		return "mm"
	}
	return *a.Unit
}

// GetLimits returns the soft limits. Both zero means unbounded.
func (a *AxisConfig) GetLimits() (lower, upper float64) {
	if a.Lower != nil {
		lower = *a.Lower
	}
	if a.Upper != nil {
		upper = *a.Upper
	}
	return lower, upper
}

// GetSpeed returns the simulated speed. Zero completes moves at once.
func (a *AxisConfig) GetSpeed() float64 {
	if a.Speed == nil {
		return 0
	}
	return *a.Speed
}

// GetInitial returns the simulated starting position.
func (a *AxisConfig) GetInitial() float64 {
	if a.Initial == nil {
		return 0
	}
	return *a.Initial
}

// GetHome returns the position assigned after homing.
func (a *AxisConfig) GetHome() float64 {
	if a.Home == nil {
		return 0
	}
	return *a.Home
}

// Example returns a complete configuration with every optional value set,
// matching DefaultConfigPath.
func Example() *Config {
	return &Config{
		Name: ptrString("energy"),
		Axes: AxesConfig{
			Gap: AxisConfig{Name: "gap", Unit: ptrString("mm"), Lower: ptrFloat64(10), Upper: ptrFloat64(200), Speed: ptrFloat64(20), Initial: ptrFloat64(20), Home: ptrFloat64(15)},
			MutualPhase: &AxisConfig{
				Name: "phase", Unit: ptrString("mm"), Lower: ptrFloat64(-40), Upper: ptrFloat64(40), Speed: ptrFloat64(10), Initial: ptrFloat64(0), Home: ptrFloat64(0),
			},
			OpposingPhase: &AxisConfig{
				Name: "opposing_phase", Unit: ptrString("mm"), Lower: ptrFloat64(-40), Upper: ptrFloat64(40), Speed: ptrFloat64(10), Initial: ptrFloat64(0), Home: ptrFloat64(0),
			},
		},
		LookupTable:  "id.lut",
		MutualZone:   ptrString("10,18,20,40"),
		OpposingZone: ptrString("10,18,15,40"),
		Policy:       ptrString("dogleg"),
		Tolerance:    ptrFloat64(0.01),
		Journal:      ptrString("journal.db"),
		Listen:       ptrString("localhost:8091"),
		Transport: &TransportConfig{
			Kind:          TransportSim,
			Options:       serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate},
			EmulatorDelay: ptrString("200ms"),
		},
	}
}
