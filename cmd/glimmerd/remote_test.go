package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
)

// fakeRemoteTransport records delivered payloads.
type fakeRemoteTransport struct {
	sent    [][]byte
	sendErr error
}

func (f *fakeRemoteTransport) DirectSend(payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func testChannel(t *testing.T, queueLimit int) (*RemoteChannel, *fakeRemoteTransport, *[]Event) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	transport := &fakeRemoteTransport{}
	var delivered []Event
	ch := NewRemoteChannel(transport, queueLimit, func(ev Event) {
		delivered = append(delivered, ev)
	}, logger)
	return ch, transport, &delivered
}

func sentTypes(t *testing.T, payloads [][]byte) []string {
	t.Helper()
	types := make([]string, 0, len(payloads))
	for _, p := range payloads {
		var env remoteEnvelope
		if err := json.Unmarshal(p, &env); err != nil {
			t.Fatalf("sent payload is not an envelope: %v", err)
		}
		types = append(types, env.Type)
	}
	return types
}

func TestRemoteChannel_SendUnpairedFailsSoft(t *testing.T) {
	ch, transport, _ := testChannel(t, 4)

	err := ch.Send(MsgPlayPause{})
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("Send before pairing = %v, want ErrRemoteUnavailable", err)
	}
	if len(transport.sent) != 0 {
		t.Error("unpaired send reached the transport")
	}
	if ch.QueueLen() != 0 {
		t.Error("unpaired send was queued")
	}
}

func TestRemoteChannel_SendReachableDeliversDirect(t *testing.T) {
	ch, transport, _ := testChannel(t, 4)
	ch.SetLinkState(true)

	if err := ch.Send(MsgVolumeChange{Level: 0.4}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := sentTypes(t, transport.sent); len(got) != 1 || got[0] != "volume_change" {
		t.Errorf("sent types = %v, want [volume_change]", got)
	}
	if ch.QueueLen() != 0 {
		t.Error("direct send left a queued message")
	}
}

func TestRemoteChannel_QueueAndFlushInOrder(t *testing.T) {
	ch, transport, _ := testChannel(t, 8)

	// Pair, then drop the link.
	ch.SetLinkState(true)
	ch.SetLinkState(false)
	transport.sent = nil

	if err := ch.Send(MsgVolumeChange{Level: 0.2}); err != nil {
		t.Fatalf("queued Send: %v", err)
	}
	if err := ch.Send(MsgSceneChange{Name: "tide"}); err != nil {
		t.Fatalf("queued Send: %v", err)
	}
	if ch.QueueLen() != 2 {
		t.Fatalf("QueueLen = %d, want 2", ch.QueueLen())
	}
	if len(transport.sent) != 0 {
		t.Fatal("messages delivered while unreachable")
	}

	ch.SetLinkState(true)

	got := sentTypes(t, transport.sent)
	want := []string{"volume_change", "scene_change"}
	if len(got) != len(want) {
		t.Fatalf("flushed %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("flush order[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if ch.QueueLen() != 0 {
		t.Error("queue not drained after flush")
	}
}

func TestRemoteChannel_QueueDropsOldestOnOverflow(t *testing.T) {
	ch, transport, _ := testChannel(t, 2)
	ch.SetLinkState(true)
	ch.SetLinkState(false)
	transport.sent = nil

	_ = ch.Send(MsgVolumeChange{Level: 0.1})
	_ = ch.Send(MsgVolumeChange{Level: 0.2})
	_ = ch.Send(MsgVolumeChange{Level: 0.3})

	if ch.QueueLen() != 2 {
		t.Fatalf("QueueLen = %d, want bounded 2", ch.QueueLen())
	}

	ch.SetLinkState(true)

	if len(transport.sent) != 2 {
		t.Fatalf("flushed %d messages, want 2", len(transport.sent))
	}
	var env remoteEnvelope
	if err := json.Unmarshal(transport.sent[0], &env); err != nil {
		t.Fatal(err)
	}
	var m MsgVolumeChange
	if err := json.Unmarshal(env.Data, &m); err != nil {
		t.Fatal(err)
	}
	if !almostEqual(m.Level, 0.2) {
		t.Errorf("oldest surviving level = %v, want 0.2 (0.1 dropped)", m.Level)
	}
}

func TestRemoteChannel_LinkTransitionsNotifyEngine(t *testing.T) {
	ch, _, delivered := testChannel(t, 4)

	ch.SetLinkState(true)
	ch.SetLinkState(false)

	var links []RemoteLinkChanged
	for _, ev := range *delivered {
		if l, ok := ev.(RemoteLinkChanged); ok {
			links = append(links, l)
		}
	}
	if len(links) != 2 {
		t.Fatalf("link events = %d, want 2", len(links))
	}
	if !links[0].Reachable || !links[0].Paired {
		t.Errorf("first transition = %+v, want reachable and paired", links[0])
	}
	if links[1].Reachable {
		t.Errorf("second transition = %+v, want unreachable", links[1])
	}
	if !links[1].Paired {
		t.Error("pairing lost across disconnect")
	}
}

func TestRemoteChannel_InboundDispatch(t *testing.T) {
	ch, _, delivered := testChannel(t, 4)

	payload, err := EncodeRemoteMessage(MsgSceneChange{Name: "tide"})
	if err != nil {
		t.Fatal(err)
	}
	ch.HandleInbound(payload)

	if len(*delivered) != 1 {
		t.Fatalf("delivered %d events, want 1", len(*delivered))
	}
	a, ok := (*delivered)[0].(ChangeScene)
	if !ok {
		t.Fatalf("delivered %T, want ChangeScene", (*delivered)[0])
	}
	if a.Name != "tide" || a.Origin != OriginRemote {
		t.Errorf("action = %+v, want tide from remote", a)
	}
}

func TestRemoteChannel_InboundDuplicateDropped(t *testing.T) {
	ch, _, delivered := testChannel(t, 4)

	var observed int
	ch.OnReceive(func(RemoteMessage) { observed++ })

	payload, err := EncodeRemoteMessage(MsgPlayPause{})
	if err != nil {
		t.Fatal(err)
	}

	ch.HandleInbound(payload)
	ch.HandleInbound(payload)

	if len(*delivered) != 1 {
		t.Errorf("delivered %d events for a redelivered message, want 1", len(*delivered))
	}
	if observed != 1 {
		t.Errorf("OnReceive observer ran %d times, want 1", observed)
	}
}

func TestRemoteChannel_InboundMalformedDropped(t *testing.T) {
	ch, _, delivered := testChannel(t, 4)

	for _, bad := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"type": "warp_drive"}`),
		[]byte(`{"type": "scene_change", "data": {"name": ""}}`),
		[]byte(`{"type": "volume_change", "data": "loud"}`),
	} {
		ch.HandleInbound(bad)
	}

	if len(*delivered) != 0 {
		t.Errorf("delivered %d events from malformed payloads, want 0", len(*delivered))
	}
}

func TestRemoteChannel_AbsoluteNightModeInbound(t *testing.T) {
	ch, _, delivered := testChannel(t, 4)

	on := true
	payload, err := EncodeRemoteMessage(MsgNightModeToggle{On: &on})
	if err != nil {
		t.Fatal(err)
	}
	ch.HandleInbound(payload)

	if len(*delivered) != 1 {
		t.Fatalf("delivered %d events, want 1", len(*delivered))
	}
	a, ok := (*delivered)[0].(SetNightMode)
	if !ok {
		t.Fatalf("delivered %T, want SetNightMode for absolute toggle", (*delivered)[0])
	}
	if !a.On {
		t.Error("absolute night mode lost its value")
	}
}

func TestEncodeDecodeRemoteMessage_AssignsUniqueIDs(t *testing.T) {
	a, err := EncodeRemoteMessage(MsgPlayPause{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeRemoteMessage(MsgPlayPause{})
	if err != nil {
		t.Fatal(err)
	}

	_, idA, err := DecodeRemoteMessage(a)
	if err != nil {
		t.Fatal(err)
	}
	_, idB, err := DecodeRemoteMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	if idA == "" || idB == "" {
		t.Fatal("encoded messages carry no id")
	}
	if idA == idB {
		t.Error("two encodes share the same id")
	}
}
