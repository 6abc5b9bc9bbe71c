package reconnect

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/carebridge/notify/internal/logger"
	"github.com/carebridge/notify/internal/notify"
)

// Conn is one open stream connection from the client's point of view.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens stream connections. Tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Handlers is the subscription set passed once at construction. The state
// machine never swaps handlers mid-flight; nil entries are skipped.
type Handlers struct {
	// OnConnectionChange fires on every connectivity transition. degraded is
	// true when connectivity is provided by the polling fallback.
	OnConnectionChange func(connected, degraded bool)
	OnNotification     func(n notify.Notification)
	OnUnreadCount      func(count int)
	OnTyping           func(p notify.TypingPayload)
	OnReaction         func(added bool, p notify.ReactionPayload)
	OnEntity           func(t notify.EventType, data json.RawMessage)
}

// Options tunes retry and fallback behavior.
type Options struct {
	MaxRetries            int           // consecutive connect failures before fallback (default 3)
	BaseRetryDelay        time.Duration // first backoff step (default 2s)
	MaxRetryDelay         time.Duration // backoff ceiling (default 10s)
	PollInterval          time.Duration // fallback poll cadence (default 5s)
	EnablePollingFallback bool
	// Poll re-issues connectivity on the fallback path, typically an
	// unread-count fetch. Required when EnablePollingFallback is set.
	Poll func(ctx context.Context) error
}

func (o *Options) withDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = 2 * time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
}

// Reconnector owns the client side of the push stream: connect, parse
// inbound frames, retry with bounded backoff, degrade to polling, and tear
// everything down on Disconnect.
//
// All state lives in a single owning goroutine; the exported methods only
// send commands to it, so there is no shared mutable state and at most one
// of {retry timer, polling timer} can ever be pending.
type Reconnector struct {
	dialer   Dialer
	handlers Handlers
	opts     Options
	logger   *logger.Logger

	cmds chan command
	done chan struct{}

	// stateVal mirrors the loop-owned state for cheap reads.
	stateVal atomic.Value // State

	// loop-owned fields, never touched outside run()
	state      State
	retryCount int
	gen        int // invalidates in-flight dials/pumps/polls after disconnect
	conn       Conn
	timer      *time.Timer
	timerWhat  timerKind
	events     chan loopEvent
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdTyping
)

type command struct {
	kind     commandKind
	isTyping bool
}

type loopEventKind int

const (
	evDialResult loopEventKind = iota
	evFrame
	evReadError
	evPollDone
)

type loopEvent struct {
	kind loopEventKind
	gen  int
	conn Conn
	err  error
	raw  []byte
}

// New builds the reconnector and starts its owning goroutine.
// Call Close when the host is done with it.
func New(dialer Dialer, handlers Handlers, opts Options, log *logger.Logger) *Reconnector {
	opts.withDefaults()
	r := &Reconnector{
		dialer:   dialer,
		handlers: handlers,
		opts:     opts,
		logger:   log.WithComponent("reconnector"),
		cmds:     make(chan command),
		done:     make(chan struct{}),
		state:    StateDisconnected,
		events:   make(chan loopEvent, 64),
	}
	r.stateVal.Store(StateDisconnected)
	go r.run()
	return r
}

// State returns the current lifecycle state.
func (r *Reconnector) State() State {
	return r.stateVal.Load().(State)
}

// Connect asks the state machine to open the stream. No-op while already
// CONNECTING or CONNECTED.
func (r *Reconnector) Connect() {
	r.send(command{kind: cmdConnect})
}

// Disconnect cancels any pending timer, closes any open connection and
// returns to DISCONNECTED. Safe to call repeatedly and from any state.
func (r *Reconnector) Disconnect() {
	r.send(command{kind: cmdDisconnect})
}

// SendTypingIndicator fires a single typing_update frame. Failures are
// logged and never retried; connection state is unaffected.
func (r *Reconnector) SendTypingIndicator(isTyping bool) {
	r.send(command{kind: cmdTyping, isTyping: isTyping})
}

// Close shuts the owning goroutine down after tearing the connection down.
func (r *Reconnector) Close() {
	select {
	case <-r.done:
		return
	default:
	}
	r.Disconnect()
	close(r.done)
}

func (r *Reconnector) send(cmd command) {
	select {
	case r.cmds <- cmd:
	case <-r.done:
	}
}

func (r *Reconnector) run() {
	for {
		select {
		case cmd := <-r.cmds:
			switch cmd.kind {
			case cmdConnect:
				r.handleConnect()
			case cmdDisconnect:
				r.handleDisconnect()
			case cmdTyping:
				r.handleTyping(cmd.isTyping)
			}

		case <-r.timerChan():
			r.handleTimerFired()

		case ev := <-r.events:
			if ev.gen != r.gen {
				// Stale event from a torn-down connection attempt.
				if ev.kind == evDialResult && ev.conn != nil {
					ev.conn.Close()
				}
				continue
			}
			switch ev.kind {
			case evDialResult:
				r.handleDialResult(ev.conn, ev.err)
			case evFrame:
				r.handleFrame(ev.raw)
			case evReadError:
				r.handleStreamError(ev.err)
			case evPollDone:
				r.handlePollDone(ev.err)
			}

		case <-r.done:
			r.teardown(false)
			return
		}
	}
}

// timerChan returns the pending timer's channel, or nil (blocks forever)
// when no timer is armed.
func (r *Reconnector) timerChan() <-chan time.Time {
	if r.timer == nil {
		return nil
	}
	return r.timer.C
}

func (r *Reconnector) setState(s State) {
	r.state = s
	r.stateVal.Store(s)
}

// armTimer replaces whatever timer is pending. The single slot is what makes
// "retry XOR poll" structural rather than policed.
func (r *Reconnector) armTimer(kind timerKind, d time.Duration) {
	r.cancelTimer()
	r.timer = time.NewTimer(d)
	r.timerWhat = kind
}

func (r *Reconnector) cancelTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerWhat = timerNone
}

func (r *Reconnector) handleConnect() {
	if r.state == StateConnecting || r.state == StateConnected {
		return
	}
	r.cancelTimer()
	r.startDial()
}

func (r *Reconnector) startDial() {
	r.setState(StateConnecting)
	gen := r.gen
	go func() {
		conn, err := r.dialer.Dial(context.Background())
		select {
		case r.events <- loopEvent{kind: evDialResult, gen: gen, conn: conn, err: err}:
		case <-r.done:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (r *Reconnector) handleDialResult(conn Conn, err error) {
	if err != nil {
		r.logger.Warn("stream connect failed",
			slog.Int("retry_count", r.retryCount),
			slog.String("error", err.Error()))
		r.handleStreamError(err)
		return
	}

	r.conn = conn
	r.retryCount = 0
	r.setState(StateConnected)
	r.notifyConnection(true, false)
	r.logger.Info("stream connected")

	gen := r.gen
	go r.readPump(conn, gen)
}

// readPump forwards inbound frames to the loop until the connection breaks.
func (r *Reconnector) readPump(conn Conn, gen int) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case r.events <- loopEvent{kind: evReadError, gen: gen, err: err}:
			case <-r.done:
			}
			return
		}
		select {
		case r.events <- loopEvent{kind: evFrame, gen: gen, raw: raw}:
		case <-r.done:
			return
		}
	}
}

func (r *Reconnector) handleFrame(raw []byte) {
	event, err := notify.ParseEvent(raw)
	if err != nil {
		// Malformed frame: dropped, connection stays open.
		r.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
		return
	}

	switch event.Type {
	case notify.EventConnected, notify.EventHeartbeat:
		// Keep-alive only.

	case notify.EventEntityCreated:
		var n notify.Notification
		if err := json.Unmarshal(event.Data, &n); err == nil && n.ID != "" {
			if r.handlers.OnNotification != nil {
				r.handlers.OnNotification(n)
			}
		} else if r.handlers.OnEntity != nil {
			r.handlers.OnEntity(event.Type, event.Data)
		}

	case notify.EventEntityUpdated, notify.EventEntityDeleted:
		if r.handlers.OnEntity != nil {
			r.handlers.OnEntity(event.Type, event.Data)
		}

	case notify.EventTypingUpdate:
		var p notify.TypingPayload
		if err := json.Unmarshal(event.Data, &p); err == nil && r.handlers.OnTyping != nil {
			r.handlers.OnTyping(p)
		}

	case notify.EventReactionAdded, notify.EventReactionRemoved:
		var p notify.ReactionPayload
		if err := json.Unmarshal(event.Data, &p); err == nil && r.handlers.OnReaction != nil {
			r.handlers.OnReaction(event.Type == notify.EventReactionAdded, p)
		}

	case notify.EventUnreadCount:
		var p struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(event.Data, &p); err == nil && r.handlers.OnUnreadCount != nil {
			r.handlers.OnUnreadCount(p.Count)
		}

	default:
		// Unknown type: logged and dropped, connection stays open.
		r.logger.Debug("dropping unknown frame type", slog.String("type", string(event.Type)))
	}
}

// handleStreamError is the single entry point for connect failures and
// broken reads: bounded backoff first, then the polling fallback.
func (r *Reconnector) handleStreamError(err error) {
	r.closeConn()
	r.setState(StateError)
	r.notifyConnection(false, false)

	if r.retryCount < r.opts.MaxRetries {
		delay := r.opts.BaseRetryDelay << r.retryCount
		if delay > r.opts.MaxRetryDelay {
			delay = r.opts.MaxRetryDelay
		}
		r.retryCount++
		r.setState(StateRetryWait)
		r.armTimer(timerRetry, delay)
		r.logger.Info("scheduling stream retry",
			slog.Int("retry_count", r.retryCount),
			slog.Duration("delay", delay))
		return
	}

	if r.opts.EnablePollingFallback && r.opts.Poll != nil {
		r.setState(StatePollingFallback)
		r.armTimer(timerPoll, r.opts.PollInterval)
		r.notifyConnection(true, true)
		r.logger.Warn("retries exhausted, entering polling fallback",
			slog.Duration("interval", r.opts.PollInterval))
		return
	}

	r.logger.Warn("retries exhausted and polling fallback disabled")
}

func (r *Reconnector) handleTimerFired() {
	kind := r.timerWhat
	r.cancelTimer()

	switch kind {
	case timerRetry:
		r.startDial()
	case timerPoll:
		gen := r.gen
		poll := r.opts.Poll
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.PollInterval)
			err := poll(ctx)
			cancel()
			select {
			case r.events <- loopEvent{kind: evPollDone, gen: gen, err: err}:
			case <-r.done:
			}
		}()
	}
}

// handlePollDone re-arms the poll timer after each poll completes, so polls
// never overlap and the slot discipline holds.
func (r *Reconnector) handlePollDone(err error) {
	if r.state != StatePollingFallback {
		return
	}
	if err != nil {
		r.logger.Warn("poll failed", slog.String("error", err.Error()))
	}
	r.armTimer(timerPoll, r.opts.PollInterval)
}

func (r *Reconnector) handleDisconnect() {
	r.teardown(true)
}

// teardown releases the timer slot and the connection and invalidates every
// in-flight dial, pump and poll via the generation counter.
func (r *Reconnector) teardown(notifyChange bool) {
	r.cancelTimer()
	r.closeConn()
	r.gen++
	r.retryCount = 0
	r.setState(StateDisconnected)
	if notifyChange {
		r.notifyConnection(false, false)
	}
}

func (r *Reconnector) closeConn() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *Reconnector) handleTyping(isTyping bool) {
	if r.state != StateConnected || r.conn == nil {
		return
	}
	event, err := notify.NewEvent(notify.EventTypingUpdate, notify.TypingPayload{IsTyping: isTyping})
	if err != nil {
		return
	}
	if err := r.conn.WriteJSON(event); err != nil {
		// Fire-and-forget: never retried, never changes connection state.
		r.logger.Debug("typing indicator write failed", slog.String("error", err.Error()))
	}
}

func (r *Reconnector) notifyConnection(connected, degraded bool) {
	if r.handlers.OnConnectionChange != nil {
		r.handlers.OnConnectionChange(connected, degraded)
	}
}
