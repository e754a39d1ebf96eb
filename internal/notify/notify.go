// internal/notify/notify.go

// Package notify posts trade and health alerts to a chat through the bot API.
// Without a bot token or chat the alerts are only logged.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/events"
)

type Kind string

const (
	KindInfo  Kind = "INFO"
	KindTrade Kind = "TRADE"
	KindDaily Kind = "DAILY"
)

const queueSize = 64

var ErrClosed = errors.New("notifier closed")

type Config struct {
	BotToken string
	ChatID   string
	// APIBase is the bot API root, https://api.telegram.org by default.
	APIBase      string
	Timeout      time.Duration
	MaxTries     uint
	RetryInitial time.Duration
}

// Alert is one queued message.
type Alert struct {
	Kind Kind
	Text string
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notifier delivers alerts from a queue on its own goroutine so bus
// handlers never wait on the network.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	subs   []events.Subscription
	queue  chan Alert
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, logger *zap.Logger) *Notifier {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")

	n := &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("notify"),
		queue:  make(chan Alert, queueSize),
	}
	n.wg.Add(1)
	go n.deliver()
	return n
}

// Enabled reports whether alerts leave the process.
func (n *Notifier) Enabled() bool {
	return n.cfg.BotToken != "" && n.cfg.ChatID != ""
}

// Notify queues an alert. A full queue drops it with a warning.
func (n *Notifier) Notify(kind Kind, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	select {
	case n.queue <- Alert{Kind: kind, Text: text}:
		return nil
	default:
		n.logger.Warn("Alert queue full, alert dropped", zap.String("kind", string(kind)))
		return fmt.Errorf("alert queue full")
	}
}

// Send delivers one alert now, retrying transient failures.
func (n *Notifier) Send(ctx context.Context, kind Kind, text string) error {
	if !n.Enabled() {
		n.logger.Info("Alert", zap.String("kind", string(kind)), zap.String("text", text))
		return nil
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: n.cfg.ChatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.cfg.RetryInitial
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, n.post(ctx, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(n.cfg.MaxTries))
	if err != nil {
		n.logger.Warn("Alert not delivered", zap.String("kind", string(kind)), zap.Error(err))
		return err
	}
	n.logger.Debug("Alert delivered", zap.String("kind", string(kind)))
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.cfg.APIBase, n.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// The token is part of the URL; keep it out of the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("send alert: %s: %w", uerr.Op, uerr.Err)
		}
		return errors.New("send alert: request failed")
	}
	defer resp.Body.Close()

	var out apiResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &out)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("bot api: %s %s", resp.Status, out.Description)
	case resp.StatusCode != http.StatusOK || !out.OK:
		return backoff.Permanent(fmt.Errorf("bot api: %s %s", resp.Status, out.Description))
	}
	return nil
}

func (n *Notifier) deliver() {
	defer n.wg.Done()
	for a := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout*time.Duration(n.cfg.MaxTries))
		_ = n.Send(ctx, a.Kind, a.Text)
		cancel()
	}
}

// Attach turns position and engine events into alerts.
func (n *Notifier) Attach(bus *events.Bus) {
	subs := []events.Subscription{
		bus.SubscribeFunc(events.EngineStarted, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(events.EngineStartedEvent); ok {
				return n.Notify(KindInfo, StartedText(ev))
			}
			return nil
		}),
		bus.SubscribeFunc(events.PositionOpened, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(events.PositionOpenedEvent); ok {
				return n.Notify(KindTrade, OpenedText(ev))
			}
			return nil
		}),
		bus.SubscribeFunc(events.PositionClosed, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(events.PositionClosedEvent); ok {
				return n.Notify(KindTrade, ClosedText(ev))
			}
			return nil
		}),
		bus.SubscribeFunc(events.HealthReport, func(_ context.Context, e events.Event) error {
			if ev, ok := e.(events.HealthReportEvent); ok && ev.Daily {
				return n.Notify(KindDaily, DailyText(ev))
			}
			return nil
		}),
	}

	n.mu.Lock()
	n.subs = append(n.subs, subs...)
	n.mu.Unlock()
}

// Close drops the bus subscriptions and waits for queued alerts to go out,
// or for ctx.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alerts pending: %w", ctx.Err())
	}
}
