package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifier_FiltersAndJoinsErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	n := NewNotifier([]Sender{bad, ok}, []string{domain.EventMarketSettled, " "}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.NoError(t, n.NotifyMarket(ctx, domain.MarketEvent{Type: domain.EventBetPlaced}))
	assert.Empty(t, ok.titles)

	err := n.NotifyMarket(ctx, domain.MarketEvent{Type: domain.EventMarketSettled, MarketID: "0x1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, []string{"Market settled"}, ok.titles, "a failing sender does not block the rest")
}

func TestFormat(t *testing.T) {
	title, msg := format(domain.MarketEvent{
		Type:     domain.EventSettlementFailed,
		MarketID: "0xabc",
		State:    domain.MarketStateFailed,
		Detail:   "payout 1 failed",
		At:       time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "Settlement failed", title)
	assert.Equal(t, "market: 0xabc\nstate: failed\npayout 1 failed\nat: 2026-05-01 10:00:00 UTC", msg)

	title, _ = format(domain.MarketEvent{Type: domain.EventMarketEnqueued})
	assert.Equal(t, "market enqueued", title)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "tok", "42")
	require.NoError(t, s.Send(context.Background(), "T", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*T*\nbody", got["text"])
}

func TestDiscordSender_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}
