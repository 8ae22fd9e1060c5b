package roomtalk

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/roomtalk/roomtalk-go/roomtalk/internal"
	"github.com/roomtalk/roomtalk-go/roomtalk/rest"

	"github.com/coder/websocket"
)

// Session owns exactly one socket connection and one timeline for a single
// open room. Lifecycle: Open dials the transport, sends the bearer token as
// the first frame, fetches the history backlog over HTTP and merges it with
// live frames into the timeline. The caller tears it down with Close; an
// unexpected drop lands in StateErrored and the caller re-opens manually.
type Session struct {
	cfg    Config
	roomID string
	creds  CredentialProvider
	logger Logger

	restClient *rest.Client
	timeline   *Timeline
	resolver   *imageResolver
	conn       *internal.Conn

	writeCh chan outbound
	done    chan struct{} // closed on the first terminal transition

	mu        sync.Mutex
	state     SessionState
	cancel    context.CancelFunc
	closing   bool
	uploading bool

	onEvent func(ChatEvent)
	onState func(StateEvent)
	onError func(error)
}

// outbound couples a text frame with its delivery acknowledgement, so Send
// returns only after the frame actually left or failed. Callers clear their
// compose box on a nil return, not before.
type outbound struct {
	text string
	done chan error
}

// NewSession constructs a session for one room. Use DefaultConfig() as a
// starting point for cfg. The session is inert until Open.
func NewSession(cfg Config, roomID string, creds CredentialProvider) *Session {
	tl := NewTimeline()
	rc := rest.NewClient(cfg.BaseURL)
	s := &Session{
		cfg:        cfg,
		roomID:     roomID,
		creds:      creds,
		logger:     noopLogger{},
		restClient: rc,
		timeline:   tl,
		writeCh:    make(chan outbound),
		done:       make(chan struct{}),
		state:      StateIdle,
	}
	s.resolver = newImageResolver(rc, tl, s.logger)
	s.resolver.onError = s.fireError
	return s
}

// SetLogger overrides the logger (optional). Call before Open.
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		return
	}
	s.logger = l
	s.resolver.logger = l
}

// OnEvent registers a callback fired once per freshly appended timeline
// entry (duplicates suppressed by the timeline never fire it). Register
// before Open; the callback may run on internal goroutines.
func (s *Session) OnEvent(fn func(ChatEvent)) { s.onEvent = fn }

// OnState registers a callback for state transitions.
func (s *Session) OnState(fn func(StateEvent)) { s.onState = fn }

// OnError registers a callback for non-fatal failures (history fetch, image
// resolution) and the cause of transitions into StateErrored.
func (s *Session) OnError(fn func(error)) { s.onError = fn }

// RoomID returns the room this session is bound to.
func (s *Session) RoomID() string { return s.roomID }

// Timeline returns the session's timeline for snapshot reads.
func (s *Session) Timeline() *Timeline { return s.timeline }

// REST exposes the session's authenticated REST client.
func (s *Session) REST() *rest.Client { return s.restClient }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open drives the session to streaming: acquire token, dial, authenticate,
// then start the history replay and the live read loop concurrently. It
// returns once the socket is authenticated; replay progress is observable
// via OnState. A missing credential fails fast without a transport attempt.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return NewError(ErrorNotStreaming, "session already opened (state "+st.String()+")")
	}
	s.mu.Unlock()
	s.transition(StateConnecting, nil)

	token, err := s.creds.Token(ctx)
	if err != nil || token == "" {
		e := WrapError(ErrorCredentialMissing, "no bearer token available", err)
		s.fail(e)
		return e
	}
	s.restClient.SetToken(token)

	// Close may have raced the token fetch; a closed session never dials.
	s.mu.Lock()
	terminal := s.state.terminal()
	s.mu.Unlock()
	if terminal {
		return NewError(ErrorClosed, "session closed during open")
	}

	target, err := s.socketURL()
	if err != nil {
		e := WrapError(ErrorConnectFailure, "invalid socket URL", err)
		s.fail(e)
		return e
	}

	dialCtx := ctx
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(dialCtx, target, nil)
	if err != nil {
		e := WrapError(ErrorConnectFailure, "dial "+target, err)
		s.fail(e)
		return e
	}
	conn := internal.NewConn(ws, s.cfg.ReadTimeout, s.cfg.WriteTimeout)

	// Commit the transport and cancel func under one lock so a racing
	// Close either sees them and releases them, or the terminal state is
	// visible here and the fresh dial is torn down on the spot.
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		return NewError(ErrorClosed, "session closed during open")
	}
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	// The backend's handshake: the raw token as the first frame, no
	// envelope and no acknowledgement.
	s.transition(StateAuthenticating, nil)
	if err := s.conn.WriteText(ctx, []byte(token)); err != nil {
		e := WrapError(ErrorConnectFailure, "send token frame", err)
		s.fail(e)
		return e
	}

	s.transition(StateReplayingHistory, nil)

	// The live read loop starts before the backlog arrives; the timeline's
	// idempotent append makes the two streams commutative, so no frame is
	// buffered or delayed during replay.
	go s.readLoop(runCtx)
	go s.writeLoop(runCtx)
	go s.replayHistory(runCtx)
	return nil
}

// SendText publishes a text frame to the room. It returns after the frame
// was handed to the transport; sends are serialized by a single writer, so
// at most one text frame is in flight at a time.
func (s *Session) SendText(ctx context.Context, text string) error {
	if err := s.requireStreaming(); err != nil {
		return err
	}
	ob := outbound{text: text, done: make(chan error, 1)}
	select {
	case s.writeCh <- ob:
	case <-s.done:
		return NewError(ErrorSendFailure, "session ended before send")
	case <-ctx.Done():
		return WrapError(ErrorSendFailure, "send canceled", ctx.Err())
	}
	select {
	case err := <-ob.done:
		if err != nil {
			return WrapError(ErrorSendFailure, "write text frame", err)
		}
		return nil
	case <-s.done:
		return NewError(ErrorSendFailure, "session ended before send was acknowledged")
	case <-ctx.Done():
		return WrapError(ErrorSendFailure, "send canceled", ctx.Err())
	}
}

// SendImage uploads an image with a caption over the HTTP multipart
// endpoint; the server echoes the image event back over the socket. Image
// sends do not pipeline: a second upload while one is unacknowledged is
// rejected with ErrorUploadInFlight.
func (s *Session) SendImage(ctx context.Context, caption, filename string, image io.Reader) error {
	if err := s.requireStreaming(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.uploading {
		s.mu.Unlock()
		return NewError(ErrorUploadInFlight, "previous image upload not yet acknowledged")
	}
	s.uploading = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.uploading = false
		s.mu.Unlock()
	}()

	if err := s.restClient.UploadImage(ctx, s.roomID, caption, filename, image); err != nil {
		return WrapError(ErrorSendFailure, "image upload failed", err)
	}
	return nil
}

// Close releases the transport and stops all session work: the in-flight
// history fetch and any pending image resolutions are cancelled and the
// timeline is frozen. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	cancel := s.cancel
	s.cancel = nil
	conn := s.conn
	old := s.state
	s.state = StateClosed
	s.mu.Unlock()

	// Freeze first: an ingest already past its read must not land an
	// append after the state turned terminal.
	s.timeline.Freeze()
	close(s.done)
	if cancel != nil {
		cancel()
	}
	s.fireState(StateEvent{Old: old, New: StateClosed})

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	s.resolver.wait()
	return err
}

func (s *Session) requireStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStreaming:
		return nil
	case StateClosed:
		return NewError(ErrorClosed, "session closed")
	default:
		return NewError(ErrorNotStreaming, "session is not streaming (state "+s.state.String()+")")
	}
}

// replayHistory fetches the backlog and feeds it through the same
// normalize/resolve/append path as live frames. Failure is non-fatal: the
// session reports it once and proceeds with live traffic only.
func (s *Session) replayHistory(ctx context.Context) {
	hctx := ctx
	if s.cfg.HistoryTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, s.cfg.HistoryTimeout)
		defer cancel()
	}
	records, err := s.restClient.RoomMessages(hctx, s.roomID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("history fetch failed, continuing with live traffic", map[string]any{
				"room":  s.roomID,
				"error": err.Error(),
			})
			s.fireError(WrapError(ErrorHistoryFetch, "history fetch for room "+s.roomID, err))
		}
	} else {
		for _, rec := range records {
			s.ingest(ctx, rec)
		}
	}

	s.mu.Lock()
	advance := s.state == StateReplayingHistory
	s.mu.Unlock()
	if advance {
		s.transition(StateStreaming, nil)
	}
}

// ingest runs one raw payload through normalize -> append -> resolve.
func (s *Session) ingest(ctx context.Context, raw []byte) {
	ev := Normalize(raw)
	key, inserted := s.timeline.Append(ev)
	if !inserted {
		return
	}
	if ev.Kind == KindImage && s.cfg.ResolveImages {
		s.resolver.resolve(ctx, key, ev.ImageRef)
	}
	if s.onEvent != nil {
		ev.Key = key
		s.onEvent(ev)
	}
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		data, err := s.conn.ReadText(ctx)
		if err != nil {
			// Only a caller-initiated stop is an orderly exit; a close
			// from the server side, clean or not, errors the session so
			// the caller can decide to re-open.
			if s.callerStopped(ctx, err) {
				return
			}
			s.fail(WrapError(ErrorDisconnected, "connection dropped", err))
			return
		}
		s.ingest(ctx, data)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case ob := <-s.writeCh:
			err := s.conn.WriteText(ctx, []byte(ob.text))
			ob.done <- err
			if err != nil {
				if !s.callerStopped(ctx, err) {
					s.fail(WrapError(ErrorDisconnected, "write failed", err))
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// fail moves the session to StateErrored (once), cancels all work and
// freezes the timeline. Caller-initiated close wins over a racing failure.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	conn := s.conn
	old := s.state
	s.state = StateErrored
	s.mu.Unlock()

	s.timeline.Freeze()
	close(s.done)
	if cancel != nil {
		cancel()
	}
	s.logger.Warn("session errored", map[string]any{
		"room":  s.roomID,
		"from":  old.String(),
		"cause": cause.Error(),
	})
	s.fireState(StateEvent{Old: old, New: StateErrored, Err: cause})
	s.fireError(cause)
	if conn != nil {
		_ = conn.Close(websocket.StatusInternalError, "session errored")
	}
}

func (s *Session) transition(next SessionState, cause error) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = next
	s.mu.Unlock()
	s.logger.Debug("session state", map[string]any{
		"room": s.roomID,
		"from": old.String(),
		"to":   next.String(),
	})
	s.fireState(StateEvent{Old: old, New: next, Err: cause})
}

func (s *Session) fireState(ev StateEvent) {
	if s.onState != nil {
		s.onState(ev)
	}
}

func (s *Session) fireError(err error) {
	if s.onError != nil && err != nil {
		s.onError(err)
	}
}

// socketURL derives the room socket endpoint from the configuration, the
// way the mobile client builds wss URLs from its backend origin.
func (s *Session) socketURL() (string, error) {
	base := s.cfg.SocketURL
	if base == "" {
		u, err := url.Parse(s.cfg.BaseURL)
		if err != nil {
			return "", err
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		base = u.String()
	}
	if base == "" {
		return "", errors.New("empty URL")
	}
	return strings.TrimRight(base, "/") + "/rooms/" + url.PathEscape(s.roomID), nil
}

// callerStopped reports whether a read/write error was caused by this side
// shutting the session down.
func (s *Session) callerStopped(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return true
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
