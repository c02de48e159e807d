package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrRemoteUnavailable reports a send with no companion to deliver to and no
// pairing to buffer for. Callers treat it as a soft failure.
var ErrRemoteUnavailable = errors.New("remote companion unavailable")

// RemoteTransport delivers an encoded message to the currently connected
// companion. The hub is the production implementation; tests substitute a
// stub.
type RemoteTransport interface {
	DirectSend(payload []byte) error
}

// RemoteChannel is the bidirectional control channel to the companion device.
//
// Outbound: Send delivers directly when the companion is reachable. When it
// is unreachable but was paired at least once, messages queue in a bounded
// store-and-forward buffer (oldest dropped on overflow) and flush in order on
// the next reachable transition. Never paired means sends fail softly.
//
// Inbound: HandleInbound decodes, suppresses duplicate message ids, and
// forwards the resulting action to the engine. Malformed or unknown payloads
// are dropped with a warning and never disturb engine state.
type RemoteChannel struct {
	mu        sync.Mutex
	logger    *slog.Logger
	transport RemoteTransport
	deliver   func(Event)

	reachable bool
	paired    bool

	queue      [][]byte
	queueLimit int

	// receivers observe accepted inbound messages (after dedupe).
	receivers []func(RemoteMessage)

	// seenIDs is a fixed-size ring of recently handled inbound message ids.
	seenIDs  []string
	seenNext int
}

func NewRemoteChannel(transport RemoteTransport, queueLimit int, deliver func(Event), logger *slog.Logger) *RemoteChannel {
	if queueLimit <= 0 {
		queueLimit = defaultForwardQueueLimit
	}
	return &RemoteChannel{
		logger:     logger,
		transport:  transport,
		deliver:    deliver,
		queueLimit: queueLimit,
		seenIDs:    make([]string, 0, dedupeWindowSize),
	}
}

// Send encodes and delivers (or queues) a message for the companion.
func (c *RemoteChannel) Send(m RemoteMessage) error {
	payload, err := EncodeRemoteMessage(m)
	if err != nil {
		return fmt.Errorf("encode remote message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reachable {
		if err := c.transport.DirectSend(payload); err != nil {
			return fmt.Errorf("deliver remote message: %w", err)
		}
		return nil
	}

	if !c.paired {
		return ErrRemoteUnavailable
	}

	if len(c.queue) >= c.queueLimit {
		c.logger.Warn("forward queue full, dropping oldest message", "limit", c.queueLimit)
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, payload)
	return nil
}

// QueueLen reports the number of messages awaiting forwarding.
func (c *RemoteChannel) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// SetLinkState records a reachability transition from the hub. A transition
// to reachable marks the channel paired and flushes the forward queue in
// order. The engine is notified of every transition.
func (c *RemoteChannel) SetLinkState(reachable bool) {
	c.mu.Lock()

	becameReachable := reachable && !c.reachable
	c.reachable = reachable
	if reachable {
		c.paired = true
	}

	var flush [][]byte
	if becameReachable && len(c.queue) > 0 {
		flush = c.queue
		c.queue = nil
	}
	paired := c.paired
	c.mu.Unlock()

	for _, payload := range flush {
		if err := c.transport.DirectSend(payload); err != nil {
			c.logger.Warn("forward queue flush failed", "error", err)
			break
		}
	}
	if len(flush) > 0 {
		c.logger.Info("forward queue flushed", "messages", len(flush))
	}

	c.deliver(RemoteLinkChanged{Reachable: reachable, Paired: paired, At: time.Now()})
}

// OnReceive registers an observer for accepted inbound messages. Observers
// run after dedupe, before the message's action reaches the engine, and must
// not block.
func (c *RemoteChannel) OnReceive(fn func(RemoteMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers = append(c.receivers, fn)
}

// HandleInbound processes one payload received from the companion.
func (c *RemoteChannel) HandleInbound(payload []byte) {
	msg, id, err := DecodeRemoteMessage(payload)
	if err != nil {
		c.logger.Warn("dropping malformed remote message", "error", err)
		return
	}

	if id != "" && c.isDuplicate(id) {
		c.logger.Debug("dropping duplicate remote message", "id", id)
		return
	}

	c.mu.Lock()
	receivers := c.receivers
	c.mu.Unlock()
	for _, fn := range receivers {
		fn(msg)
	}

	action := remoteMessageToAction(msg)
	if action == nil {
		return
	}
	c.deliver(action)
}

// isDuplicate records id in the dedupe ring and reports whether it had been
// seen already. The ring bounds memory while still catching the short-range
// redelivery the forward queue can produce.
func (c *RemoteChannel) isDuplicate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, seen := range c.seenIDs {
		if seen == id {
			return true
		}
	}

	if len(c.seenIDs) < dedupeWindowSize {
		c.seenIDs = append(c.seenIDs, id)
	} else {
		c.seenIDs[c.seenNext] = id
		c.seenNext = (c.seenNext + 1) % dedupeWindowSize
	}
	return false
}
