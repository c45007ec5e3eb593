// Package notify forwards market lifecycle events to operator channels
// (Telegram, Discord). Events can be filtered by type so operators only see
// settlements and failures.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches market events to every Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types; empty allows all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. If events is empty every event type is
// forwarded.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyMarket formats ev and sends it to every sender. A failing sender
// does not stop delivery to the others; all failures are returned joined.
func (n *Notifier) NotifyMarket(ctx context.Context, ev domain.MarketEvent) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "notifier: event filtered out", slog.String("event", ev.Type))
		return nil
	}
	title, message := format(ev)
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

func format(ev domain.MarketEvent) (string, string) {
	var title string
	switch ev.Type {
	case domain.EventMarketSettled:
		title = "Market settled"
	case domain.EventSettlementFailed:
		title = "Settlement failed"
	case domain.EventResolutionFailed:
		title = "Resolution failed"
	default:
		title = strings.ReplaceAll(ev.Type, "_", " ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "market: %s\nstate: %s", ev.MarketID, ev.State)
	if ev.Detail != "" {
		fmt.Fprintf(&sb, "\n%s", ev.Detail)
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&sb, "\nat: %s", ev.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return title, sb.String()
}
