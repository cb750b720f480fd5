// Package bridge maintains the long-lived websocket session to the message
// bridge and exposes JSON-RPC calls over it.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/hivesync/internal/core/logging"
)

// ErrDisconnected is returned by Call while no session is established, and
// to calls that were in flight when the session dropped.
var ErrDisconnected = errors.New("bridge disconnected")

// DefaultURL is the address the bridge listens on unless configured.
const DefaultURL = "ws://localhost:8765"

// RPCError is an error object returned by the bridge.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("bridge rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Options configures a Session.
type Options struct {
	URL            string
	DialTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Session owns one websocket connection at a time. Run keeps it connected;
// Call can be used from any goroutine.
type Session struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan response

	// connected is closed and replaced each time a connection is made, so
	// tests and callers can wait for the session to come up.
	connected chan struct{}
}

// NewSession creates a Session. Zero-valued options take defaults.
func NewSession(opts Options) *Session {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Minute
	}

	return &Session{
		opts:      opts,
		log:       logging.Component("bridge").With().Str("url", opts.URL).Logger(),
		pending:   make(map[string]chan response),
		connected: make(chan struct{}),
	}
}

// Connected reports whether a connection is currently established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Ready returns a channel that is closed the next time a connection is
// established. If the session is already connected the channel is closed.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.connected
}

// Run dials the bridge and keeps the session alive until ctx is cancelled,
// redialing with exponential backoff after every failure or disconnect.
func (s *Session) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.BackoffInitial
	bo.MaxInterval = s.opts.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := s.dial(ctx)
		if err == nil {
			bo.Reset()
			s.log.Info().Msg("bridge connected")
			err = s.serve(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Err(err).Msg("bridge connection lost")
		}

		wait := bo.NextBackOff()
		s.log.Debug().Err(err).Dur("backoff", wait).Msg("bridge reconnect scheduled")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, s.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}
	return conn, nil
}

// serve installs conn as the active connection and reads responses until the
// connection fails or ctx is cancelled.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	s.conn = conn
	close(s.connected)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.connected = make(chan struct{})
		pending := s.pending
		s.pending = make(map[string]chan response)
		s.mu.Unlock()

		for id, ch := range pending {
			close(ch)
			delete(pending, id)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var resp response
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			return err
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		delete(s.pending, resp.ID)
		s.mu.Unlock()

		if !ok {
			s.log.Debug().Str("id", resp.ID).Msg("bridge message without waiting call")
			continue
		}
		ch <- resp
	}
}

// Call sends a JSON-RPC request and decodes the result into out. It fails
// fast with ErrDisconnected when no connection is established.
func (s *Session) Call(ctx context.Context, method string, params, out any) error {
	if params == nil {
		params = struct{}{}
	}

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrDisconnected
	}
	id := uuid.NewString()
	ch := make(chan response, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		forget()
		return fmt.Errorf("%s: %w: %w", method, ErrDisconnected, err)
	}

	select {
	case <-ctx.Done():
		forget()
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrDisconnected)
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
}
