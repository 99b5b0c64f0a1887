// Package stream implements the SSE consumer for one crawl task. It opens a
// long-lived push channel, decodes typed events, and reports transport
// failures together with the channel's readiness state so the caller can
// tell "closed because finished" from "closed because the network died".
package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/okjin/crawlwatch/internal/metrics"
)

// ReadyState mirrors the push channel lifecycle.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// TransportError reports an unexpected channel failure. Drained is true when
// a terminal event was already flushed, which makes the failure an artifact
// of normal teardown rather than a mid-task drop.
type TransportError struct {
	Err     error
	State   ReadyState
	Drained bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream transport error (state=%s, drained=%v): %v", e.State, e.Drained, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client consumes one push channel. Events are delivered in arrival order on
// Events(); the channel is closed when the stream drains or fails. A failure
// while not drained is delivered on Errors().
type Client struct {
	taskID string
	body   io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc

	events chan Event
	errs   chan *TransportError

	state     atomic.Int32
	drained   atomic.Bool
	closeOnce sync.Once
}

const eventBuffer = 32

// Open establishes the push channel for taskID at url and starts decoding.
// httpc must not enforce an overall timeout; the stream lives as long as the
// task runs.
func Open(ctx context.Context, httpc *http.Client, url string, taskID string) (*Client, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := httpc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream connection failed with status %d", resp.StatusCode)
	}

	c := &Client{
		taskID: taskID,
		body:   resp.Body,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, eventBuffer),
		errs:   make(chan *TransportError, 1),
	}
	c.state.Store(int32(StateOpen))
	metrics.RecordStreamOpened()

	go c.readLoop(newDecoder(resp.Body))
	return c, nil
}

// Events returns the decoded event channel. It is closed on drain, failure,
// or Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Errors delivers at most one transport error for the life of the stream.
func (c *Client) Errors() <-chan *TransportError {
	return c.errs
}

// Drained reports whether a terminal event was received before the channel
// went away.
func (c *Client) Drained() bool {
	return c.drained.Load()
}

func (c *Client) State() ReadyState {
	return ReadyState(c.state.Load())
}

// Closed reports whether the channel is no longer delivering events.
func (c *Client) Closed() bool {
	s := c.State()
	return s == StateClosing || s == StateClosed
}

// Close tears the channel down. Safe to call any number of times and after
// the stream already ended.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
		c.cancel()
		_ = c.body.Close()
	})
	return nil
}

func (c *Client) readLoop(dec *decoder) {
	defer close(c.events)
	defer metrics.RecordStreamClosed()

	for {
		f, err := dec.next()
		if err != nil {
			c.finish(err)
			return
		}

		ev, ok, perr := parseEvent(f.name, []byte(f.data))
		if perr != nil {
			// Malformed frame: dropped, never fatal.
			log.Warn("dropping malformed stream frame", "task_id", c.taskID, "error", perr)
			metrics.RecordEventDropped()
			continue
		}
		if !ok {
			log.Debug("skipping unknown stream event", "task_id", c.taskID, "event", f.name)
			continue
		}

		metrics.RecordStreamEvent(string(ev.Kind))
		if !c.deliver(ev) {
			return
		}

		if ev.Terminal() {
			// Stream is drained; close the channel deliberately after the
			// event is flushed.
			c.drained.Store(true)
			c.state.Store(int32(StateClosed))
			_ = c.body.Close()
			return
		}
	}
}

// deliver hands an event to the consumer, giving up if the client is torn
// down before anyone reads it.
func (c *Client) deliver(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// finish classifies the read failure. A drained stream or a deliberate Close
// ends cleanly; anything else is a transport error reported with the state
// the channel had when it died.
func (c *Client) finish(err error) {
	state := c.State()
	drained := c.drained.Load()
	c.state.Store(int32(StateClosed))

	if drained || state == StateClosing || state == StateClosed {
		log.Debug("stream closed", "task_id", c.taskID, "drained", drained)
		return
	}

	metrics.RecordTransportError()
	c.errs <- &TransportError{Err: err, State: state, Drained: drained}
}
