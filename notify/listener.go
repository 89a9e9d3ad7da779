// Package notify listens for trade activity hints and turns them into early
// polls.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Hint types understood by Listener. Frames of any other type are ignored.
const (
	TypeTradeOffers = "tradeOffers"
	TypeNewItems    = "newItems"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = time.Minute
)

var ErrNoURL = errors.New("notify: no url")

// Hint is one frame of the feed.
type Hint struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Listener reads hints from a websocket feed and reconnects whenever the feed
// drops.
type Listener struct {
	URL    string
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Logger *slog.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Run calls onHint for every hint received until ctx ends. It only returns
// ctx's error, or ErrNoURL.
func (l *Listener) Run(ctx context.Context, onHint func(Hint)) error {
	if l.URL == "" {
		return ErrNoURL
	}
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "notify")

	minBackoff, maxBackoff := l.MinBackoff, l.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = defaultMinBackoff
	}
	if maxBackoff < minBackoff {
		maxBackoff = max(defaultMaxBackoff, minBackoff)
	}

	backoff := minBackoff
	for {
		connected, err := l.listen(ctx, log, onHint)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = minBackoff
		}
		log.Warn("hint feed dropped", "err", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *Listener) listen(ctx context.Context, log *slog.Logger, onHint func(Hint)) (bool, error) {
	dialer := l.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, l.URL, l.Header)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Info("hint feed connected", "url", l.URL)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var hint Hint
		if err := json.Unmarshal(message, &hint); err != nil {
			log.Debug("ignoring malformed hint", "err", err)
			continue
		}
		switch hint.Type {
		case TypeTradeOffers, TypeNewItems:
			onHint(hint)
		default:
			log.Debug("ignoring hint", "type", hint.Type)
		}
	}
}
