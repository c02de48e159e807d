package main

import "fmt"

// Command represents a side effect requested by the reducer and executed by
// the engine loop's effects stage: audio transport calls, background loads,
// and outbound remote sends.
type Command interface {
	commandMarker()
	String() string
}

// CmdAudioPlay decodes and starts the named track (background; loops).
type CmdAudioPlay struct {
	Track string
}

func (CmdAudioPlay) commandMarker() {}
func (c CmdAudioPlay) String() string {
	return fmt.Sprintf("CmdAudioPlay(track=%q)", c.Track)
}

// CmdAudioPause pauses playback, retaining position.
type CmdAudioPause struct{}

func (CmdAudioPause) commandMarker() {}
func (CmdAudioPause) String() string { return "CmdAudioPause()" }

// CmdAudioResume resumes paused playback.
type CmdAudioResume struct{}

func (CmdAudioResume) commandMarker() {}
func (CmdAudioResume) String() string { return "CmdAudioResume()" }

// CmdAudioStop stops playback and resets position.
type CmdAudioStop struct{}

func (CmdAudioStop) commandMarker() {}
func (CmdAudioStop) String() string { return "CmdAudioStop()" }

// CmdAudioSetVolume applies an absolute volume level.
type CmdAudioSetVolume struct {
	Level float64
}

func (CmdAudioSetVolume) commandMarker() {}
func (c CmdAudioSetVolume) String() string {
	return fmt.Sprintf("CmdAudioSetVolume(level=%.3f)", c.Level)
}

// CmdLoadTimeline starts a background script load for a scene. Generation is
// compared against the active scene generation when the result arrives, so a
// reload cancels any in-flight load for the previous scene.
type CmdLoadTimeline struct {
	Scene      string
	Generation uint64
}

func (CmdLoadTimeline) commandMarker() {}
func (c CmdLoadTimeline) String() string {
	return fmt.Sprintf("CmdLoadTimeline(scene=%q, gen=%d)", c.Scene, c.Generation)
}

// CmdRemoteSend mirrors a local state change to the companion device.
type CmdRemoteSend struct {
	Message RemoteMessage
}

func (CmdRemoteSend) commandMarker() {}
func (c CmdRemoteSend) String() string {
	return fmt.Sprintf("CmdRemoteSend(%T)", c.Message)
}

// CmdPublishSnapshot delivers the reducer-produced frame to a requester.
// The channel send lives in the effects stage to keep the reducer pure.
type CmdPublishSnapshot struct {
	Reply chan ParameterFrame
	Frame ParameterFrame
}

func (CmdPublishSnapshot) commandMarker() {}
func (CmdPublishSnapshot) String() string { return "CmdPublishSnapshot()" }
