package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/undulator/internal/route"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Minimal(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "u.json", `{
  "axes": {
    "gap": {"name": "gap"},
    "mutual_phase": {"name": "phase"}
  },
  "lookup_table": "tables/id.lut"
}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "energy", cfg.GetName())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "tables", "id.lut"), cfg.LookupTablePath())
	assert.Equal(t, "", cfg.GetJournal())
	assert.Equal(t, "", cfg.GetListen())
	assert.Equal(t, route.PolicyDirectOnly, cfg.GetPolicy())
	assert.Equal(t, 0.01, cfg.GetTolerance())
	assert.Equal(t, TransportSim, cfg.GetTransport().Kind)
	assert.Equal(t, 200*time.Millisecond, cfg.GetTransport().GetEmulatorDelay())

	z, err := cfg.GetMutualZone()
	require.NoError(t, err)
	assert.Nil(t, z)

	gap := cfg.Axes.Gap
	assert.Equal(t, "mm", gap.GetUnit())
	lower, upper := gap.GetLimits()
	assert.Zero(t, lower)
	assert.Zero(t, upper)
	assert.Zero(t, gap.GetSpeed())
	assert.Zero(t, gap.GetInitial())
	assert.Zero(t, gap.GetHome())
}

func TestLoadConfig_AbsolutePathsKept(t *testing.T) {
	t.Parallel()
	abs := filepath.Join(t.TempDir(), "elsewhere", "j.db")
	body, err := json.Marshal(map[string]any{
		"axes":         map[string]any{"gap": map[string]any{"name": "gap"}, "mutual_phase": map[string]any{"name": "phase"}},
		"lookup_table": "/srv/id.lut",
		"journal":      abs,
	})
	require.NoError(t, err)
	cfg, err := LoadConfig(writeConfig(t, "u.json", string(body)))
	require.NoError(t, err)
	assert.Equal(t, "/srv/id.lut", cfg.LookupTablePath())
	assert.Equal(t, abs, cfg.GetJournal())
}

func TestLoadConfig_Example(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)

	want := Example()
	if diff := cmp.Diff(want, cfg, cmpopts.IgnoreUnexported(Config{})); diff != "" {
		t.Errorf("example config drifted from Example() (-want +got):\n%s", diff)
	}

	_, err = os.Stat(cfg.LookupTablePath())
	assert.NoError(t, err, "example lookup table should exist")

	z, err := cfg.GetOpposingZone()
	require.NoError(t, err)
	assert.Equal(t, &route.Zone{MinX: 10, MaxX: 18, MinY: 15, MaxY: 40}, z)
	assert.Equal(t, route.PolicyDogleg, cfg.GetPolicy())
}

func TestLoadConfig_FileErrors(t *testing.T) {
	t.Parallel()
	_, err := LoadConfig(writeConfig(t, "u.yaml", "{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json extension")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")

	_, err = LoadConfig(writeConfig(t, "bad.json", "{"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")

	big := `{"lookup_table": "` + strings.Repeat("x", 1<<20) + `"}`
	_, err = LoadConfig(writeConfig(t, "big.json", big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Axes: AxesConfig{
				Gap:           AxisConfig{Name: "gap"},
				MutualPhase:   &AxisConfig{Name: "phase"},
				OpposingPhase: &AxisConfig{Name: "op"},
			},
			LookupTable: "id.lut",
		}
	}
	require.NoError(t, base().Validate())
	require.NoError(t, Example().Validate())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"no table", func(c *Config) { c.LookupTable = "" }, "lookup_table"},
		{"no gap name", func(c *Config) { c.Axes.Gap.Name = "" }, "axes.gap.name"},
		{"duplicate axis", func(c *Config) { c.Axes.MutualPhase.Name = "gap" }, "already used"},
		{"axis named like virtual", func(c *Config) { c.Axes.Gap.Name = "energy" }, "already used"},
		{"no mutual phase axis", func(c *Config) { c.Axes.MutualPhase = nil }, "axes.mutual_phase is required"},
		{"inverted limits", func(c *Config) { c.Axes.Gap.Lower, c.Axes.Gap.Upper = ptrFloat64(5), ptrFloat64(5) }, "must be below"},
		{"negative speed", func(c *Config) { c.Axes.Gap.Speed = ptrFloat64(-1) }, "speed"},
		{"bad zone", func(c *Config) { c.MutualZone = ptrString("1,2,3") }, "zone"},
		{"zone without axis", func(c *Config) {
			c.Axes.OpposingPhase = nil
			c.OpposingZone = ptrString("0,1,0,1")
		}, "opposing_zone needs"},
		{"bad policy", func(c *Config) { c.Policy = ptrString("zigzag") }, "route policy"},
		{"zero tolerance", func(c *Config) { c.Tolerance = ptrFloat64(0) }, "tolerance"},
		{"unknown transport", func(c *Config) { c.Transport = &TransportConfig{Kind: "carrier-pigeon"} }, "transport.kind"},
		{"serial without port", func(c *Config) { c.Transport = &TransportConfig{Kind: TransportSerial} }, "transport.port"},
		{"bad parity", func(c *Config) {
			c.Transport = &TransportConfig{Kind: TransportSerial, Port: "/dev/ttyUSB0"}
			c.Transport.Options.Parity = "mark"
		}, "transport.options"},
		{"bad delay", func(c *Config) { c.Transport = &TransportConfig{EmulatorDelay: ptrString("soon")} }, "emulator_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetters_Set(t *testing.T) {
	t.Parallel()
	c := Example()
	assert.Equal(t, "localhost:8091", c.GetListen())
	assert.Equal(t, "journal.db", c.GetJournal())
	lower, upper := c.Axes.Gap.GetLimits()
	assert.Equal(t, 10.0, lower)
	assert.Equal(t, 200.0, upper)
	assert.Equal(t, 15.0, c.Axes.Gap.GetHome())
	assert.Equal(t, 20.0, c.Axes.Gap.GetSpeed())

	c.Policy = ptrString("nonsense")
	assert.Equal(t, route.PolicyDirectOnly, c.GetPolicy())
	c.Transport.EmulatorDelay = ptrString("1s")
	assert.Equal(t, time.Second, c.GetTransport().GetEmulatorDelay())
}
