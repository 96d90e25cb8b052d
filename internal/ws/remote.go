package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/realtime"
)

// RemoteFeed is a realtime.Feed backed by a server's /ws/changes endpoint.
// Each Subscribe opens its own connection.
type RemoteFeed struct {
	endpoint string
	token    func() string
	dialer   *websocket.Dialer
}

// NewRemoteFeed takes the API base URL (http or https). token supplies the
// current access token and may be nil for anonymous feeds.
func NewRemoteFeed(baseURL string, token func() string) (*RemoteFeed, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws/changes")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &RemoteFeed{endpoint: u.String(), token: token, dialer: websocket.DefaultDialer}, nil
}

func (f *RemoteFeed) url(flt realtime.Filter) string {
	q := url.Values{}
	q.Set("table", flt.Table)
	if flt.Event != "" {
		q.Set("event", flt.Event)
	}
	if s := flt.String(); s != "" {
		q.Set("filter", s)
	}
	if f.token != nil {
		if tok := f.token(); tok != "" {
			q.Set("token", tok)
		}
	}
	return f.endpoint + "?" + q.Encode()
}

// Subscribe dials the server and calls fn for each change, in arrival order,
// from a single goroutine.
func (f *RemoteFeed) Subscribe(ctx context.Context, flt realtime.Filter, fn func(realtime.Change)) (realtime.Subscription, error) {
	conn, resp, err := f.dialer.DialContext(ctx, f.url(flt), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial change feed: %s: %w", resp.Status, statusErr(resp.StatusCode))
		}
		return nil, fmt.Errorf("dial change feed: %w", err)
	}

	s := &remoteSub{conn: conn, done: make(chan struct{})}
	go s.read(fn)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// ErrFeedForbidden is returned when the server refuses the subscription.
var ErrFeedForbidden = errors.New("change feed refused")

func statusErr(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrFeedForbidden
	case http.StatusBadRequest:
		return realtime.ErrBadFilter
	}
	return errors.New(http.StatusText(code))
}

type remoteSub struct {
	conn   *websocket.Conn
	closed atomic.Bool

	mu   sync.Mutex
	err  error
	once sync.Once
	done chan struct{}
}

func (s *remoteSub) read(fn func(realtime.Change)) {
	defer s.finish()
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		var c realtime.Change
		if err := json.Unmarshal(msg, &c); err != nil {
			logrus.WithError(err).Warn("ws: undecodable change")
			continue
		}
		if s.closed.Load() {
			return
		}
		fn(c)
	}
}

func (s *remoteSub) finish() {
	s.once.Do(func() {
		s.conn.Close()
		close(s.done)
	})
}

// Close ends the subscription. A callback already running may finish.
func (s *remoteSub) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.conn.Close()
	}
}

func (s *remoteSub) Done() <-chan struct{} { return s.done }

func (s *remoteSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
