// Package obs implements backend.Controller over the obs-websocket v5 protocol.
//
// Dial performs the Hello/Identify handshake (with password authentication when the
// server asks for it). Run then reads responses and events, polls GetStreamStatus to
// derive the outgoing bitrate, and publishes scene and stream-state changes as
// backend.Event values on Events().
package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/obs-chat-relay/backend"
	"github.com/onnwee/obs-chat-relay/telemetry"
)

// Scenes maps configured scene names to backend events.
type Scenes struct {
	Normal     string
	LowBitrate string
	Offline    string
}

// Config configures a Client.
type Config struct {
	URL                 string
	Password            string
	RequestTimeout      time.Duration
	BitratePollInterval time.Duration
	Scenes              Scenes
}

type result struct {
	resp responseData
	err  error
}

// Client is a connected obs-websocket session.
type Client struct {
	cfg   Config
	clock clockwork.Clock
	conn  *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan result
	scene   string

	events    chan backend.Event
	connected atomic.Bool
	bitrate   atomic.Int64

	lastBytes int64
	lastPoll  time.Time
}

var _ backend.Controller = (*Client)(nil)

// Dial connects to OBS and completes the handshake.
func Dial(ctx context.Context, cfg Config, clock clockwork.Clock) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.BitratePollInterval <= 0 {
		cfg.BitratePollInterval = 2 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		return nil, fmt.Errorf("obs dial %s: %w", cfg.URL, err)
	}
	c := &Client{
		cfg:     cfg,
		clock:   clock,
		conn:    conn,
		pending: make(map[string]chan result),
		events:  make(chan backend.Event, 16),
	}
	if err := c.identify(ctx); err != nil {
		conn.CloseNow()
		return nil, err
	}
	c.connected.Store(true)
	slog.Info("obs connected", slog.String("url", cfg.URL), slog.String("component", "obs"))
	return c, nil
}

func (c *Client) identify(ctx context.Context) error {
	var env envelope
	if err := wsjson.Read(ctx, c.conn, &env); err != nil {
		return fmt.Errorf("obs hello: %w", err)
	}
	if env.Op != opHello {
		return fmt.Errorf("obs hello: unexpected op %d", env.Op)
	}
	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return fmt.Errorf("obs hello: %w", err)
	}

	id := identifyData{RPCVersion: rpcVersion, EventSubscriptions: subscribeScenes | subscribeOutputs}
	if hello.Authentication != nil {
		if c.cfg.Password == "" {
			return errors.New("obs identify: server requires a password and OBS_PASSWORD is empty")
		}
		id.Authentication = AuthResponse(c.cfg.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	msg, err := newEnvelope(opIdentify, id)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("obs identify: %w", err)
	}

	if err := wsjson.Read(ctx, c.conn, &env); err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return fmt.Errorf("obs identify rejected (close %d): %w", status, err)
		}
		return fmt.Errorf("obs identify: %w", err)
	}
	if env.Op != opIdentified {
		return fmt.Errorf("obs identify: unexpected op %d", env.Op)
	}
	return nil
}

// Events returns the backend event stream. It is closed when Run returns.
func (c *Client) Events() <-chan backend.Event { return c.events }

// Connected reports whether the session is usable.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run services the connection until ctx is done or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(c.events)

	errc := make(chan error, 1)
	go func() { errc <- c.readLoop(ctx) }()

	if err := c.syncScene(ctx); err != nil {
		slog.Warn("obs: initial scene query failed", slog.Any("err", err), slog.String("component", "obs"))
	}

	ticker := c.clock.NewTicker(c.cfg.BitratePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
			<-errc
			return nil
		case err := <-errc:
			return err
		case <-ticker.Chan():
			c.pollBitrate(ctx)
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		var env envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			c.connected.Store(false)
			c.failPending(err)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("obs read: %w", err)
		}
		switch env.Op {
		case opRequestResponse:
			var resp responseData
			if err := json.Unmarshal(env.D, &resp); err != nil {
				slog.Warn("obs: bad request response", slog.Any("err", err), slog.String("component", "obs"))
				continue
			}
			c.resolve(resp)
		case opEvent:
			var ev eventData
			if err := json.Unmarshal(env.D, &ev); err != nil {
				slog.Warn("obs: bad event", slog.Any("err", err), slog.String("component", "obs"))
				continue
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Client) resolve(resp responseData) {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	c.mu.Unlock()
	if ok {
		ch <- result{resp: resp}
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- result{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) handleEvent(ev eventData) {
	switch ev.EventType {
	case "CurrentProgramSceneChanged":
		var d sceneChanged
		if err := json.Unmarshal(ev.EventData, &d); err != nil {
			return
		}
		c.setScene(d.SceneName)
		switch d.SceneName {
		case c.cfg.Scenes.Normal:
			c.publish(backend.Event{Kind: backend.EventNormalScene, Scene: d.SceneName})
		case c.cfg.Scenes.LowBitrate:
			c.publish(backend.Event{Kind: backend.EventLowBitrateScene, Scene: d.SceneName})
		case c.cfg.Scenes.Offline:
			c.publish(backend.Event{Kind: backend.EventOffline, Scene: d.SceneName})
		}
	case "StreamStateChanged":
		var d streamStateChanged
		if err := json.Unmarshal(ev.EventData, &d); err != nil {
			return
		}
		if d.OutputState == outputStarted {
			c.publish(backend.Event{Kind: backend.EventLive})
		}
	}
}

// publish never blocks the read loop; a full queue drops the event.
func (c *Client) publish(ev backend.Event) {
	select {
	case c.events <- ev:
	default:
		slog.Warn("obs: event queue full, dropping event", slog.String("event", ev.Kind.String()), slog.String("component", "obs"))
	}
}

func (c *Client) call(ctx context.Context, requestType string, data, out any) error {
	if !c.connected.Load() {
		return backend.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	id := uuid.NewString()
	ch := make(chan result, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg, err := newEnvelope(opRequest, requestData{RequestType: requestType, RequestID: id, RequestData: data})
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("obs %s: %w", requestType, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("obs %s: %w", requestType, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("obs %s: %w", requestType, res.err)
		}
		if !res.resp.RequestStatus.Result {
			return &RequestError{Request: requestType, Code: res.resp.RequestStatus.Code, Comment: res.resp.RequestStatus.Comment}
		}
		if out != nil && len(res.resp.ResponseData) > 0 {
			if err := json.Unmarshal(res.resp.ResponseData, out); err != nil {
				return fmt.Errorf("obs %s: decode response: %w", requestType, err)
			}
		}
		return nil
	}
}

// StartStream starts the OBS stream output.
func (c *Client) StartStream(ctx context.Context) error {
	return c.call(ctx, "StartStream", nil, nil)
}

// StopStream stops the OBS stream output.
func (c *Client) StopStream(ctx context.Context) error {
	return c.call(ctx, "StopStream", nil, nil)
}

// SetScene switches the program scene.
func (c *Client) SetScene(ctx context.Context, name string) error {
	if err := c.call(ctx, "SetCurrentProgramScene", map[string]string{"sceneName": name}, nil); err != nil {
		return err
	}
	c.setScene(name)
	return nil
}

// Bitrate returns the last polled bitrate in Kbps.
func (c *Client) Bitrate() int { return int(c.bitrate.Load()) }

// CurrentScene returns the last known program scene.
func (c *Client) CurrentScene() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scene
}

func (c *Client) setScene(name string) {
	c.mu.Lock()
	c.scene = name
	c.mu.Unlock()
}

func (c *Client) syncScene(ctx context.Context) error {
	var cur currentScene
	if err := c.call(ctx, "GetCurrentProgramScene", nil, &cur); err != nil {
		return err
	}
	name := cur.CurrentProgramSceneName
	if name == "" {
		name = cur.SceneName
	}
	c.setScene(name)
	return nil
}

// pollBitrate derives Kbps from the outputBytes delta since the previous poll.
func (c *Client) pollBitrate(ctx context.Context) {
	var st streamStatus
	if err := c.call(ctx, "GetStreamStatus", nil, &st); err != nil {
		slog.Debug("obs: stream status", slog.Any("err", err), slog.String("component", "obs"))
		return
	}
	now := c.clock.Now()
	if !st.OutputActive {
		c.lastPoll = time.Time{}
		c.lastBytes = 0
		c.storeBitrate(0)
		return
	}
	if !c.lastPoll.IsZero() && st.OutputBytes >= c.lastBytes {
		if secs := now.Sub(c.lastPoll).Seconds(); secs > 0 {
			c.storeBitrate(int(float64(st.OutputBytes-c.lastBytes) * 8 / 1000 / secs))
		}
	}
	c.lastPoll = now
	c.lastBytes = st.OutputBytes
}

func (c *Client) storeBitrate(kbps int) {
	c.bitrate.Store(int64(kbps))
	telemetry.SetBitrate(kbps)
}
