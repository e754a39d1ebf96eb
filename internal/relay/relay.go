// internal/relay/relay.go

// Package relay forwards trade commands to the peer trading bot over the
// messaging provider and classifies its replies.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/provider"
)

var (
	ErrNotConnected = errors.New("peer not connected")
	ErrTransport    = errors.New("relay transport failure")
)

// CommandError reports a command that could not be delivered.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("relay %q: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Executor places trades. Relay sends them to the peer; DryRun only logs.
type Executor interface {
	Buy(ctx context.Context, token string, amount decimal.Decimal, slippage float64) error
	Sell(ctx context.Context, token string, percent int) error
}

type Config struct {
	Keyword      string
	RetryInitial time.Duration
	RetryMax     time.Duration
	// Greet sends /start to the peer once it is located.
	Greet bool
}

// Balance is the last balance report received from the peer.
type Balance struct {
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type Relay struct {
	cfg    Config
	logger *zap.Logger
	bus    *events.Bus

	mu      sync.RWMutex
	session provider.Session
	peer    *provider.Chat
	balance *Balance
}

var _ Executor = (*Relay)(nil)

// New creates a relay. bus may be nil.
func New(cfg Config, logger *zap.Logger, bus *events.Bus) *Relay {
	if cfg.Keyword == "" {
		cfg.Keyword = "toxi"
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 2 * time.Second
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = cfg.RetryInitial
	}
	return &Relay{cfg: cfg, logger: logger.Named("relay"), bus: bus}
}

// Attach sets the provider session and forgets any previously located peer.
func (r *Relay) Attach(s provider.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = s
	r.peer = nil
}

// Peer returns the located peer chat.
func (r *Relay) Peer() (provider.Chat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.peer == nil {
		return provider.Chat{}, false
	}
	return *r.peer, true
}

func (r *Relay) Connected() bool {
	_, ok := r.Peer()
	return ok
}

func (r *Relay) Balance() (Balance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.balance == nil {
		return Balance{}, false
	}
	return *r.balance, true
}

// Locate scans the chat list for the first chat whose name or username
// contains the keyword, ignoring case.
func (r *Relay) Locate(ctx context.Context) (provider.Chat, error) {
	sess := r.currentSession()
	if sess == nil {
		return provider.Chat{}, ErrNotConnected
	}

	keyword := strings.ToLower(r.cfg.Keyword)
	for chat, err := range sess.Chats(ctx) {
		if err != nil {
			return provider.Chat{}, fmt.Errorf("%w: list chats: %v", ErrTransport, err)
		}
		if strings.Contains(strings.ToLower(chat.Name), keyword) ||
			strings.Contains(strings.ToLower(chat.Username), keyword) {
			r.mu.Lock()
			r.peer = &chat
			r.mu.Unlock()

			r.logger.Info("Peer located",
				zap.String("name", chat.Name),
				zap.String("username", chat.Username),
				zap.Int64("chat_id", chat.ID))
			r.publish(events.PeerConnectedEvent{
				BaseEvent: events.NewBase(events.PeerConnected),
				ChatID:    chat.ID,
				Name:      chat.Name,
			})
			return chat, nil
		}
	}
	return provider.Chat{}, fmt.Errorf("%w: no chat matches %q", ErrNotConnected, r.cfg.Keyword)
}

// Send delivers text to the peer, locating it first if needed.
func (r *Relay) Send(ctx context.Context, text string) error {
	sess := r.currentSession()
	if sess == nil {
		return r.failed(text, ErrNotConnected)
	}

	peer, ok := r.Peer()
	if !ok {
		var err error
		if peer, err = r.Locate(ctx); err != nil {
			return r.failed(text, err)
		}
	}

	if err := sess.SendMessage(ctx, peer.ID, text); err != nil {
		return r.failed(text, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	r.logger.Info("Command sent", zap.String("command", text))
	return nil
}

func (r *Relay) Buy(ctx context.Context, token string, amount decimal.Decimal, slippage float64) error {
	return r.Send(ctx, BuyCommand(token, amount, slippage))
}

func (r *Relay) Sell(ctx context.Context, token string, percent int) error {
	return r.Send(ctx, SellCommand(token, percent))
}

// BuyCommand formats "/buy <token> <amount> <slippage>".
func BuyCommand(token string, amount decimal.Decimal, slippage float64) string {
	return fmt.Sprintf("/buy %s %s %.2f", token, amount.StringFixed(3), slippage)
}

// SellCommand formats "/sell <token> <percent>".
func SellCommand(token string, percent int) string {
	return fmt.Sprintf("/sell %s %d", token, percent)
}

// Run keeps a subscription to the peer open until ctx is done. Whenever the
// stream ends it relocates the peer and subscribes again, backing off
// exponentially between failed attempts.
func (r *Relay) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInitial
	b.MaxInterval = r.cfg.RetryMax

	for {
		established, err := r.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			b.Reset()
		}

		wait := b.NextBackOff()
		if err != nil {
			r.logger.Warn("Peer subscription failed", zap.Error(err), zap.Duration("retry_in", wait))
		} else {
			r.logger.Info("Peer subscription closed", zap.Duration("retry_in", wait))
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// serve runs one subscription. established reports whether the subscription
// was opened at all.
func (r *Relay) serve(ctx context.Context) (established bool, err error) {
	sess := r.currentSession()
	if sess == nil {
		return false, ErrNotConnected
	}

	peer, ok := r.Peer()
	if !ok {
		if peer, err = r.Locate(ctx); err != nil {
			return false, err
		}
		if r.cfg.Greet {
			if err := r.Send(ctx, "/start"); err != nil {
				r.logger.Warn("Peer greeting failed", zap.Error(err))
			}
		}
	}

	msgs, err := sess.Subscribe(ctx)
	if errors.Is(err, provider.ErrNotConnected) {
		r.logger.Info("Reconnecting provider session")
		if cerr := sess.Connect(ctx); cerr != nil {
			return false, fmt.Errorf("%w: reconnect: %v", ErrTransport, cerr)
		}
		r.forgetPeer()
		return false, fmt.Errorf("%w: session was disconnected", ErrTransport)
	}
	if err != nil {
		return false, fmt.Errorf("%w: subscribe: %v", ErrTransport, err)
	}

	r.logger.Debug("Subscribed to peer", zap.Int64("chat_id", peer.ID))
	for msg := range msgs {
		if msg.ChatID != peer.ID || msg.Outgoing {
			continue
		}
		r.handle(msg)
	}
	return true, nil
}

func (r *Relay) handle(msg provider.Message) {
	kind := Classify(msg.Text)
	if kind == BalanceReport {
		r.mu.Lock()
		r.balance = &Balance{Text: msg.Text, ReceivedAt: msg.Date}
		r.mu.Unlock()
	}

	r.logger.Info("Peer reply", zap.Stringer("kind", kind), zap.String("text", msg.Text))
	r.publish(events.PeerMessageEvent{
		BaseEvent: events.NewBase(events.PeerMessage),
		Kind:      kind.String(),
		Text:      msg.Text,
	})
}

func (r *Relay) failed(command string, err error) error {
	r.logger.Warn("Command not relayed", zap.String("command", command), zap.Error(err))
	r.publish(events.CommandFailedEvent{
		BaseEvent: events.NewBase(events.CommandFailed),
		Command:   command,
		Error:     err,
	})
	return &CommandError{Command: command, Err: err}
}

func (r *Relay) currentSession() provider.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

func (r *Relay) forgetPeer() {
	r.mu.Lock()
	r.peer = nil
	r.mu.Unlock()
}

func (r *Relay) publish(e events.Event) {
	if r.bus != nil {
		_ = r.bus.Publish(e)
	}
}
