package main

// Synchronizer defaults
const (
	defaultTickHz     = 60 // parameter frame cadence (display refresh class)
	defaultBrightness = 0.8
	defaultVolume     = 0.7

	// Base particle density pair for the density hint. Night runs denser.
	defaultBaseDensity      = 120
	defaultBaseDensityNight = 220

	defaultSceneName = "firefly"
)

// Remote channel defaults
const (
	defaultRemotePort = 7707

	// Store-and-forward buffer cap. Oldest entries are dropped beyond this.
	defaultForwardQueueLimit = 256

	// Remembered inbound message ids for duplicate suppression.
	dedupeWindowSize = 512
)

// Synthetic loudness oscillator periods (seconds). Two incommensurate
// periods keep the signal moving without an obvious repeat.
const (
	powerSlowPeriodS = 7.3
	powerFastPeriodS = 1.9
)
