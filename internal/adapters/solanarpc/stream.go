package solanarpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"copyTrader/internal/domain"
	"copyTrader/internal/ports"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	handshakeTimeout = 15 * time.Second
	readLimit        = 4 << 20

	notificationBuffer = 256
)

// errSubscribeRejected marks a logsSubscribe the node answered with an error.
// Retrying the same request would be rejected again.
var errSubscribeRejected = errors.New("logsSubscribe rejected")

// stream is one websocket connection carrying a logsSubscribe per followed
// address. It reconnects and resubscribes on drops until the reconnect
// budget is spent.
type stream struct {
	client    *Client
	addresses []string

	ctx    context.Context // Cancelled by close
	cancel context.CancelFunc

	notifications chan domain.Notification
	finished      chan struct{}
	closeOnce     sync.Once

	errMu sync.Mutex
	err   error

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	subsMu  sync.Mutex
	pending map[uint64]string // request id -> address
	subs    map[uint64]string // subscription id -> address
}

func newStream(c *Client, addresses []string) *stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &stream{
		client:        c,
		addresses:     append([]string(nil), addresses...),
		ctx:           ctx,
		cancel:        cancel,
		notifications: make(chan domain.Notification, notificationBuffer),
		finished:      make(chan struct{}),
		pending:       make(map[uint64]string),
		subs:          make(map[uint64]string),
	}
}

func (s *stream) Notifications() <-chan domain.Notification { return s.notifications }

func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *stream) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// connect dials the endpoint and sends a logsSubscribe for every address.
func (s *stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.client.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ports.ErrConnectionFailed, s.client.cfg.WSURL, err)
	}
	conn.SetReadLimit(readLimit)

	s.subsMu.Lock()
	s.pending = make(map[uint64]string)
	s.subs = make(map[uint64]string)
	s.subsMu.Unlock()

	s.connMu.Lock()
	if err := s.ctx.Err(); err != nil {
		s.connMu.Unlock()
		conn.Close()
		return err
	}
	s.conn = conn
	s.connMu.Unlock()

	for _, addr := range s.addresses {
		id := s.client.nextID.Add(1)
		s.subsMu.Lock()
		s.pending[id] = addr
		s.subsMu.Unlock()

		req := rpcRequest{
			JSONRPC: "2.0",
			ID:      id,
			Method:  "logsSubscribe",
			Params: []interface{}{
				map[string]interface{}{"mentions": []string{addr}},
				map[string]interface{}{"commitment": commitment},
			},
		}
		if err := s.writeJSON(conn, req); err != nil {
			conn.Close()
			return fmt.Errorf("%w: subscribe %s: %v", ports.ErrConnectionFailed, addr, err)
		}
	}

	s.client.logger.Info(ctx, "Solana log subscription connected", map[string]interface{}{
		"url":       s.client.cfg.WSURL,
		"addresses": len(s.addresses),
	})
	return nil
}

// run owns the notification channel: it reads until the connection drops,
// reconnects, and closes the channel on close or permanent failure.
func (s *stream) run() {
	defer close(s.finished)
	defer close(s.notifications)

	b := &backoff.Backoff{
		Min:    s.client.cfg.ReconnectDelay,
		Max:    s.client.cfg.MaxReconnectDelay,
		Factor: 2,
		Jitter: true,
	}

	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		err := s.readLoop(conn)
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, errSubscribeRejected) {
			s.setErr(err)
			s.client.logger.Error(s.ctx, err, "Solana log subscription rejected")
			return
		}
		s.client.logger.Warn(s.ctx, "Solana websocket dropped, reconnecting", map[string]interface{}{
			"error": err.Error(),
		})

		if err := s.reconnect(b); err != nil {
			if s.ctx.Err() == nil {
				s.setErr(err)
				s.client.logger.Error(s.ctx, err, "Solana websocket reconnect budget exhausted")
			}
			return
		}
		b.Reset()
	}
}

func (s *stream) reconnect(b *backoff.Backoff) error {
	var lastErr error
	for int(b.Attempt()) < s.client.cfg.MaxReconnectAttempts {
		wait := b.Duration()
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-time.After(wait):
		}

		err := s.connect(s.ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		s.client.logger.Warn(s.ctx, "Solana websocket reconnect failed", map[string]interface{}{
			"attempt": int(b.Attempt()),
			"error":   err.Error(),
		})
	}
	return fmt.Errorf("%w: gave up after %d reconnect attempts: %v",
		ports.ErrConnectionFailed, s.client.cfg.MaxReconnectAttempts, lastErr)
}

func (s *stream) readLoop(conn *websocket.Conn) error {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(conn, stopPing)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg rpcResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			s.client.logger.Warn(s.ctx, "Discarding undecodable websocket message", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if err := s.dispatch(&msg); err != nil {
			return err
		}
	}
}

func (s *stream) dispatch(msg *rpcResponse) error {
	if msg.ID != nil {
		s.subsMu.Lock()
		addr, ok := s.pending[*msg.ID]
		delete(s.pending, *msg.ID)
		s.subsMu.Unlock()
		if !ok {
			return nil
		}
		if msg.Error != nil {
			return fmt.Errorf("%w: %s: %v", errSubscribeRejected, addr, msg.Error)
		}
		var subID uint64
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			return fmt.Errorf("%w: %s: bad subscription id %s", errSubscribeRejected, addr, msg.Result)
		}
		s.subsMu.Lock()
		s.subs[subID] = addr
		s.subsMu.Unlock()
		s.client.logger.Debug(s.ctx, "Address subscribed", map[string]interface{}{
			"address":      addr,
			"subscription": subID,
		})
		return nil
	}

	if msg.Method != "logsNotification" || msg.Params == nil {
		return nil
	}
	s.subsMu.Lock()
	addr, ok := s.subs[msg.Params.Subscription]
	s.subsMu.Unlock()
	if !ok {
		return nil
	}

	v := msg.Params.Result
	n := domain.Notification{
		Signature: v.Value.Signature,
		Slot:      v.Context.Slot,
		Address:   addr,
		Failed:    isErr(v.Value.Err),
	}
	select {
	case s.notifications <- n:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *stream) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (s *stream) writeJSON(conn *websocket.Conn, v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// close unsubscribes best-effort, closes the connection and waits for run
// to exit or ctx to expire.
func (s *stream) close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn != nil {
			s.subsMu.Lock()
			ids := make([]uint64, 0, len(s.subs))
			for id := range s.subs {
				ids = append(ids, id)
			}
			s.subsMu.Unlock()
			for _, subID := range ids {
				_ = s.writeJSON(conn, rpcRequest{
					JSONRPC: "2.0",
					ID:      s.client.nextID.Add(1),
					Method:  "logsUnsubscribe",
					Params:  []interface{}{subID},
				})
			}
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			s.writeMu.Unlock()
		}

		s.cancel()
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})

	select {
	case <-s.finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for subscription shutdown", ports.ErrTimeout)
	}
}
