package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the glimmerd daemon.
//
// The config file is the primary configuration surface; flags exist for small
// overrides and for environments where a file is awkward. Defaults +
// file + overrides are merged before Validate runs, so the rest of the code
// can assume a well-formed config.
type Config struct {
	// Engine covers the tick loop and frame computation.
	Engine EngineFileConfig `yaml:"engine"`

	// Audio covers the playback transport.
	Audio AudioConfig `yaml:"audio"`

	// Remote covers the companion-device channel.
	Remote RemoteConfig `yaml:"remote"`

	// Assets names where script/track assets live.
	Assets AssetsConfig `yaml:"assets"`

	// Scenes maps scene names to their script and audio assets.
	Scenes map[string]SceneConfig `yaml:"scenes"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type EngineFileConfig struct {
	TickHz           int     `yaml:"tick_hz"`
	Brightness       float64 `yaml:"brightness"`
	BaseDensity      int     `yaml:"base_density"`
	BaseDensityNight int     `yaml:"base_density_night"`
	DefaultScene     string  `yaml:"default_scene"`
}

type AudioConfig struct {
	Volume float64 `yaml:"volume"`
}

type RemoteConfig struct {
	Port              int `yaml:"port"`
	ForwardQueueLimit int `yaml:"forward_queue_limit"`
}

type AssetsConfig struct {
	Dir string `yaml:"dir"`
}

type SceneConfig struct {
	Script string `yaml:"script"`
	Track  string `yaml:"track,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go and the CLI defaults.
func DefaultConfig() Config {
	return Config{
		Engine: EngineFileConfig{
			TickHz:           defaultTickHz,
			Brightness:       defaultBrightness,
			BaseDensity:      defaultBaseDensity,
			BaseDensityNight: defaultBaseDensityNight,
			DefaultScene:     defaultSceneName,
		},
		Audio: AudioConfig{
			Volume: defaultVolume,
		},
		Remote: RemoteConfig{
			Port:              defaultRemotePort,
			ForwardQueueLimit: defaultForwardQueueLimit,
		},
		Assets: AssetsConfig{
			Dir: "assets",
		},
		Scenes: map[string]SceneConfig{
			defaultSceneName: {
				Script: "firefly.json",
				Track:  "firefly.mp3",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments may follow the document. A second Decode
	// returns io.EOF when the stream is exhausted; anything else means a
	// trailing document is present.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies flag values on top of a loaded config. Each override
// is applied only when its pointer is non-nil.
type FlagOverrides struct {
	TickHz       *int
	Brightness   *float64
	DefaultScene *string

	AudioVolume *float64

	RemotePort *int

	AssetsDir *string

	LogLevel *string
}

// Apply merges the overrides into cfg. Nil pointers are ignored.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.TickHz != nil {
		cfg.Engine.TickHz = *o.TickHz
	}
	if o.Brightness != nil {
		cfg.Engine.Brightness = *o.Brightness
	}
	if o.DefaultScene != nil {
		cfg.Engine.DefaultScene = *o.DefaultScene
	}
	if o.AudioVolume != nil {
		cfg.Audio.Volume = *o.AudioVolume
	}
	if o.RemotePort != nil {
		cfg.Remote.Port = *o.RemotePort
	}
	if o.AssetsDir != nil {
		cfg.Assets.Dir = *o.AssetsDir
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if c.Engine.TickHz <= 0 || c.Engine.TickHz > 240 {
		return errors.New("engine.tick_hz must be between 1 and 240")
	}
	if c.Engine.Brightness < 0 || c.Engine.Brightness > 1 {
		return errors.New("engine.brightness must be in [0,1]")
	}
	if c.Engine.BaseDensity < 0 || c.Engine.BaseDensityNight < 0 {
		return errors.New("engine.base_density and engine.base_density_night must be >= 0")
	}
	if c.Engine.DefaultScene == "" {
		return errors.New("engine.default_scene must not be empty")
	}

	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return errors.New("audio.volume must be in [0,1]")
	}

	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		return errors.New("remote.port must be a valid TCP port")
	}
	if c.Remote.ForwardQueueLimit <= 0 {
		return errors.New("remote.forward_queue_limit must be > 0")
	}

	if c.Assets.Dir == "" {
		return errors.New("assets.dir must not be empty")
	}

	for name, sc := range c.Scenes {
		if name == "" {
			return errors.New("scene names must not be empty")
		}
		if sc.Script == "" {
			return fmt.Errorf("scenes.%s.script must not be empty", name)
		}
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// EngineConfig is the internal engine configuration derived from Config.
type EngineConfig struct {
	TickHz           int
	BaseDensity      int
	BaseDensityNight int
	DefaultScene     string
	Scenes           map[string]SceneConfig
}

// ToEngineConfig converts the file config into the internal engine config.
func (c *Config) ToEngineConfig() EngineConfig {
	return EngineConfig{
		TickHz:           c.Engine.TickHz,
		BaseDensity:      c.Engine.BaseDensity,
		BaseDensityNight: c.Engine.BaseDensityNight,
		DefaultScene:     c.Engine.DefaultScene,
		Scenes:           c.Scenes,
	}
}

// sceneScript resolves the script asset for a scene name. Unconfigured scenes
// fall back to "<name>.json" so ad-hoc scripts still resolve.
func (c EngineConfig) sceneScript(name string) string {
	if sc, ok := c.Scenes[name]; ok && sc.Script != "" {
		return sc.Script
	}
	return name + ".json"
}

// sceneTrack resolves the audio track for a scene name; empty means the scene
// has no audio.
func (c EngineConfig) sceneTrack(name string) string {
	if sc, ok := c.Scenes[name]; ok {
		return sc.Track
	}
	return ""
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
