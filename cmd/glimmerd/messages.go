package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RemoteMessage is the tagged union carried between the daemon and the
// companion device. Messages are transient: created per send/receive, with
// no persistence beyond the channel's store-and-forward buffer.
type RemoteMessage interface {
	remoteMarker()
}

// MsgPlayPause toggles playback on the peer.
type MsgPlayPause struct{}

func (MsgPlayPause) remoteMarker() {}

// MsgVolumeChange carries an absolute volume level. Absolute values make
// duplicate store-and-forward delivery idempotent.
type MsgVolumeChange struct {
	Level float64 `json:"level"`
}

func (MsgVolumeChange) remoteMarker() {}

// MsgSceneChange selects a scene by name.
type MsgSceneChange struct {
	Name string `json:"name"`
}

func (MsgSceneChange) remoteMarker() {}

// MsgNightModeToggle flips night mode. When On is present it is applied
// absolutely instead, which redelivery cannot double-toggle; bare toggles
// rely on envelope id dedupe.
type MsgNightModeToggle struct {
	On *bool `json:"on,omitempty"`
}

func (MsgNightModeToggle) remoteMarker() {}

// remoteEnvelope is the wire format: a type discriminator plus payload, with
// a message id used for duplicate suppression across delivery paths.
type remoteEnvelope struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeRemoteMessage serializes a message, assigning it a fresh id.
func EncodeRemoteMessage(m RemoteMessage) ([]byte, error) {
	env := remoteEnvelope{ID: uuid.NewString()}

	switch m := m.(type) {
	case MsgPlayPause:
		env.Type = "play_pause"

	case MsgVolumeChange:
		env.Type = "volume_change"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal MsgVolumeChange: %w", err)
		}
		env.Data = data

	case MsgSceneChange:
		env.Type = "scene_change"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal MsgSceneChange: %w", err)
		}
		env.Data = data

	case MsgNightModeToggle:
		env.Type = "night_mode_toggle"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal MsgNightModeToggle: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported remote message type: %T", m)
	}

	return json.Marshal(env)
}

// DecodeRemoteMessage normalizes an inbound payload to the RemoteMessage
// union. Unknown or malformed shapes come back as errors; the channel drops
// them with a warning rather than propagating.
func DecodeRemoteMessage(data []byte) (RemoteMessage, string, error) {
	var env remoteEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "play_pause":
		return MsgPlayPause{}, env.ID, nil

	case "volume_change":
		var m MsgVolumeChange
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, "", fmt.Errorf("unmarshal MsgVolumeChange: %w", err)
		}
		return m, env.ID, nil

	case "scene_change":
		var m MsgSceneChange
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, "", fmt.Errorf("unmarshal MsgSceneChange: %w", err)
		}
		if m.Name == "" {
			return nil, "", fmt.Errorf("scene_change without a scene name")
		}
		return m, env.ID, nil

	case "night_mode_toggle":
		m := MsgNightModeToggle{}
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &m); err != nil {
				return nil, "", fmt.Errorf("unmarshal MsgNightModeToggle: %w", err)
			}
		}
		return m, env.ID, nil

	default:
		return nil, "", fmt.Errorf("unknown remote message type: %q", env.Type)
	}
}

// remoteMessageToAction translates a normalized inbound message into the
// engine action it mutates local state with.
func remoteMessageToAction(m RemoteMessage) Event {
	switch m := m.(type) {
	case MsgPlayPause:
		return PlayPause{}
	case MsgVolumeChange:
		return ChangeVolume{Level: m.Level, Origin: OriginRemote}
	case MsgSceneChange:
		return ChangeScene{Name: m.Name, Origin: OriginRemote}
	case MsgNightModeToggle:
		if m.On != nil {
			return SetNightMode{On: *m.On, Origin: OriginRemote}
		}
		return ToggleNightMode{Origin: OriginRemote}
	default:
		return nil
	}
}
