// glimmer-remote is a companion-side debugging client for glimmerd.
//
// It connects to the daemon's companion WebSocket, prints the state_init
// snapshot and the coalesced frame/control stream, and can send the control
// messages a companion device would send.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func main() {
	var (
		wsURL      = flag.String("ws", "ws://127.0.0.1:7707/ws", "glimmerd companion websocket URL")
		playPause  = flag.Bool("play-pause", false, "Send a play/pause toggle and exit")
		volume     = flag.Float64("volume", -1, "Send an absolute volume in [0,1] and exit")
		scene      = flag.String("scene", "", "Send a scene change and exit")
		night      = flag.String("night", "", "Send night mode: on, off, or toggle, and exit")
		framesOnly = flag.Bool("frames", false, "Print only frame messages")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	// One-shot command mode: send the control message and exit.
	if msg, ok := buildCommand(*playPause, *volume, *scene, *night); ok {
		sendMessage(conn, &writeMu, msg)
		// Give the daemon a moment to ack via the control_changed broadcast.
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if printEnvelope(payload, false) == "control_changed" {
				return
			}
		}
	}

	log.Printf("connected! (press Ctrl+C to exit)")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			printEnvelope(payload, *framesOnly)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// wireEnvelope mirrors the daemon's outbound {type, ts, data} frame.
type wireEnvelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// controlEnvelope mirrors the daemon's inbound control message format.
type controlEnvelope struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// buildCommand maps the one-shot flags onto a control envelope.
func buildCommand(playPause bool, volume float64, scene, night string) (controlEnvelope, bool) {
	switch {
	case playPause:
		return controlEnvelope{ID: uuid.NewString(), Type: "play_pause"}, true

	case volume >= 0:
		if volume > 1 {
			log.Fatalf("volume must be in [0,1], got %v", volume)
		}
		return controlEnvelope{
			ID:   uuid.NewString(),
			Type: "volume_change",
			Data: map[string]float64{"level": volume},
		}, true

	case scene != "":
		return controlEnvelope{
			ID:   uuid.NewString(),
			Type: "scene_change",
			Data: map[string]string{"name": scene},
		}, true

	case night != "":
		env := controlEnvelope{ID: uuid.NewString(), Type: "night_mode_toggle"}
		switch night {
		case "on":
			env.Data = map[string]bool{"on": true}
		case "off":
			env.Data = map[string]bool{"on": false}
		case "toggle":
			// Bare toggle: no data.
		default:
			log.Fatalf("night must be one of: on, off, toggle; got %q", night)
		}
		return env, true
	}

	return controlEnvelope{}, false
}

func sendMessage(conn *websocket.Conn, writeMu *sync.Mutex, env controlEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Fatalf("error marshaling message: %v", err)
	}

	writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	writeMu.Unlock()

	if err != nil {
		log.Fatalf("error sending message: %v", err)
	}
	log.Printf("sent %s", env.Type)
}

// printEnvelope pretty-prints one daemon message and returns its type.
func printEnvelope(payload []byte, framesOnly bool) string {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(payload))
		return ""
	}

	if framesOnly && env.Type != "frame" {
		return env.Type
	}

	switch env.Type {
	case "frame":
		var f struct {
			Intensity  float64 `json:"intensity"`
			Color      string  `json:"color"`
			AudioPower float64 `json:"audio_power"`
			Density    int     `json:"density"`
			Night      bool    `json:"night"`
		}
		if err := json.Unmarshal(env.Data, &f); err == nil {
			fmt.Printf("[FRAME] intensity=%.3f color=%s power=%.3f density=%d night=%v\n",
				f.Intensity, f.Color, f.AudioPower, f.Density, f.Night)
			return env.Type
		}

	case "state_init", "control_changed", "control":
		pretty, _ := json.MarshalIndent(env.Data, "", "  ")
		fmt.Printf("[%s]\n%s\n\n", env.Type, string(pretty))
		return env.Type
	}

	fmt.Printf("[%s] %s\n", env.Type, string(env.Data))
	return env.Type
}
