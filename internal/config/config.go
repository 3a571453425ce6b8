package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration parses TOML duration strings such as "5s" or "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config aggregates every tunable the server reads at boot.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Simulation SimulationConfig `toml:"simulation"`
	Arena      ArenaConfig      `toml:"arena"`
	Visibility VisibilityConfig `toml:"visibility"`
	Grid       GridConfig       `toml:"grid"`
	Journal    JournalConfig    `toml:"journal"`
	Scripts    ScriptsConfig    `toml:"scripts"`
	Logging    LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Name        string `toml:"name"`
	BindAddress string `toml:"bind_address"`
	EnablePprof bool   `toml:"enable_pprof"` // mounts /debug/pprof on the public mux
}

type SimulationConfig struct {
	TickRate          int `toml:"tick_rate"`                // simulation steps per second
	BroadcastInterval int `toml:"broadcast_interval_ticks"` // ticks between state broadcasts
	KeyframeInterval  int `toml:"keyframe_interval"`        // broadcasts between keyframes
	CommandCapacity   int `toml:"command_capacity"`
	PerActorLimit     int `toml:"per_actor_limit"`
	CatchupMaxTicks   int `toml:"catchup_max_ticks"`
	QueueWarningStep  int `toml:"queue_warning_step"`
}

type ArenaConfig struct {
	Path          string  `toml:"path"` // YAML layout; empty generates a seeded arena
	MaterialsPath string  `toml:"materials_path"`
	Width         float64 `toml:"width"`
	Height        float64 `toml:"height"`
	WallCount     int     `toml:"wall_count"`
	Seed          string  `toml:"seed"`
	SliceCount    int     `toml:"slice_count"`
}

type VisibilityConfig struct {
	Mode              string  `toml:"mode"` // default wire encoding: "polygon" or "tiles"
	RayStepDegrees    float64 `toml:"ray_step_degrees"`
	DefaultRadius     float64 `toml:"default_radius"`
	DefaultFOVDegrees float64 `toml:"default_fov_degrees"`
	InterestMargin    float64 `toml:"interest_margin"` // extra range for delta relevance
	PunctureDepth     float64 `toml:"puncture_depth"`  // sight depth past a punctured face
}

type GridConfig struct {
	CellSize float64 `toml:"cell_size"`
	Width    int     `toml:"width"`
	Height   int     `toml:"height"`
}

type JournalConfig struct {
	KeyframeCapacity int      `toml:"keyframe_capacity"`
	KeyframeMaxAge   Duration `toml:"keyframe_max_age"`
}

type ScriptsConfig struct {
	Dir string `toml:"dir"` // Lua tuning hooks; empty or missing uses built-ins
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Load reads and parses the TOML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the built-in defaults
// when path is empty or the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:        "breach-and-hold",
			BindAddress: ":8080",
		},
		Simulation: SimulationConfig{
			TickRate:          60,
			BroadcastInterval: 3,
			KeyframeInterval:  20,
			CommandCapacity:   256,
			PerActorLimit:     8,
			CatchupMaxTicks:   4,
			QueueWarningStep:  64,
		},
		Arena: ArenaConfig{
			Width:      480,
			Height:     270,
			WallCount:  12,
			Seed:       "breach-arena",
			SliceCount: 5,
		},
		Visibility: VisibilityConfig{
			Mode:              "polygon",
			RayStepDegrees:    2,
			DefaultRadius:     150,
			DefaultFOVDegrees: 60,
			InterestMargin:    40,
			PunctureDepth:     30,
		},
		Grid: GridConfig{
			CellSize: 10,
			Width:    48,
			Height:   27,
		},
		Journal: JournalConfig{
			KeyframeCapacity: 8,
			KeyframeMaxAge:   Duration(5 * time.Second),
		},
		Scripts: ScriptsConfig{
			Dir: "scripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
