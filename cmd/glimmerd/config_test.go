package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glimmerd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig does not validate: %v", err)
	}
}

func TestLoadConfigFile_MergesOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
engine:
  tick_hz: 30
  default_scene: tide
scenes:
  tide:
    script: tide.json
    track: tide.wav
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Engine.TickHz != 30 {
		t.Errorf("TickHz = %d, want 30", cfg.Engine.TickHz)
	}
	if cfg.Engine.DefaultScene != "tide" {
		t.Errorf("DefaultScene = %q, want tide", cfg.Engine.DefaultScene)
	}
	// Untouched sections keep their defaults.
	if cfg.Audio.Volume != defaultVolume {
		t.Errorf("Audio.Volume = %v, want default %v", cfg.Audio.Volume, defaultVolume)
	}
	if cfg.Remote.Port != defaultRemotePort {
		t.Errorf("Remote.Port = %d, want default %d", cfg.Remote.Port, defaultRemotePort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("merged config does not validate: %v", err)
	}
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, `
engine:
  tick_hzz: 30
`)
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("config with a typo field loaded without error")
	}
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	path := writeTempConfig(t, `
engine:
  tick_hz: 30
---
engine:
  tick_hz: 60
`)
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("config with a trailing document loaded without error")
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()

	tick := 30
	scene := "tide"
	vol := 0.25
	o := FlagOverrides{TickHz: &tick, DefaultScene: &scene, AudioVolume: &vol}
	o.Apply(&cfg)

	if cfg.Engine.TickHz != 30 || cfg.Engine.DefaultScene != "tide" || cfg.Audio.Volume != 0.25 {
		t.Errorf("overrides not applied: %+v", cfg.Engine)
	}
	// Nil pointers leave values alone.
	if cfg.Engine.Brightness != defaultBrightness {
		t.Errorf("Brightness = %v, want untouched default", cfg.Engine.Brightness)
	}
}

func TestConfig_ValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.Engine.TickHz = 0 }},
		{"excessive tick", func(c *Config) { c.Engine.TickHz = 1000 }},
		{"brightness out of range", func(c *Config) { c.Engine.Brightness = 1.5 }},
		{"volume out of range", func(c *Config) { c.Audio.Volume = -0.1 }},
		{"bad port", func(c *Config) { c.Remote.Port = 0 }},
		{"bad queue limit", func(c *Config) { c.Remote.ForwardQueueLimit = 0 }},
		{"empty default scene", func(c *Config) { c.Engine.DefaultScene = "" }},
		{"empty assets dir", func(c *Config) { c.Assets.Dir = "" }},
		{"scene without script", func(c *Config) { c.Scenes["broken"] = SceneConfig{} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate passed, want error")
			}
		})
	}
}

func TestEngineConfig_SceneLookups(t *testing.T) {
	cfg := testEngineConfig()

	if got := cfg.sceneScript("tide"); got != "tide.json" {
		t.Errorf("sceneScript(tide) = %q, want tide.json", got)
	}
	if got := cfg.sceneScript("unknown"); got != "unknown.json" {
		t.Errorf("sceneScript(unknown) = %q, want unknown.json fallback", got)
	}
	if got := cfg.sceneTrack("tide"); got != "tide.wav" {
		t.Errorf("sceneTrack(tide) = %q, want tide.wav", got)
	}
	if got := cfg.sceneTrack("silent"); got != "" {
		t.Errorf("sceneTrack(silent) = %q, want empty", got)
	}
	if got := cfg.sceneTrack("unknown"); got != "" {
		t.Errorf("sceneTrack(unknown) = %q, want empty", got)
	}
}
