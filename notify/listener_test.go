package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed serves each connection the given frames, then hangs up.
func feed(t *testing.T, frames ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListener_DeliversKnownHints(t *testing.T) {
	srv, _ := feed(t,
		`{"type":"tradeOffers","count":2}`,
		`not json`,
		`{"type":"chat","count":1}`,
		`{"type":"newItems","count":5}`,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Hint
	l := &Listener{
		URL:        wsURL(srv),
		Header:     http.Header{"X-Token": []string{"secret"}},
		MinBackoff: time.Hour,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- l.Run(ctx, func(h Hint) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, h)
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Hint{{Type: TypeTradeOffers, Count: 2}, {Type: TypeNewItems, Count: 5}}, got)
}

func TestListener_Reconnects(t *testing.T) {
	srv, conns := feed(t, `{"type":"tradeOffers","count":1}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hints atomic.Int32
	l := &Listener{
		URL:        wsURL(srv),
		Header:     http.Header{"X-Token": []string{"secret"}},
		MinBackoff: time.Millisecond,
		MaxBackoff: 4 * time.Millisecond,
	}
	go l.Run(ctx, func(Hint) { hints.Add(1) })

	require.Eventually(t, func() bool { return conns.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, hints.Load(), int32(2))
}

func TestListener_DialFailureBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	l := &Listener{URL: url, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	err := l.Run(ctx, func(Hint) { t.Error("no hints expected") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListener_NoURL(t *testing.T) {
	err := (&Listener{}).Run(context.Background(), func(Hint) {})
	assert.ErrorIs(t, err, ErrNoURL)
}
