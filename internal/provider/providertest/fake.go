// internal/provider/providertest/fake.go
// Package providertest offers an in-memory provider for tests.
package providertest

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/rovshanmuradov/toxi-relay/internal/credstore"
	"github.com/rovshanmuradov/toxi-relay/internal/provider"
)

// Provider is a scripted provider shared by every session it creates.
// Exported fields may be changed between calls under the test's own
// synchronization.
type Provider struct {
	ValidCode  string
	ConnectErr error
	SendErr    error
	Chats      []provider.Chat
	// Hold, when set, parks SendCode and SignIn until it is closed.
	Hold chan struct{}

	mu          sync.Mutex
	sessions    []*Session
	sent        []Sent
	codeCalls   int
	subs        []chan provider.Message
	inflight    int
	maxInflight int
}

// Sent records one outgoing message.
type Sent struct {
	ChatID int64
	Text   string
}

func New() *Provider {
	return &Provider{ValidCode: "12345"}
}

func (p *Provider) NewSession(creds credstore.Credentials, token string) (provider.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &Session{p: p, creds: creds, token: token, authorized: strings.HasPrefix(token, "authorized:")}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

func (p *Provider) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sent...)
}

// CodeRequests counts SendCode calls across sessions.
func (p *Provider) CodeRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codeCalls
}

// InFlight reports the SendCode and SignIn calls currently running.
func (p *Provider) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// MaxInFlight reports the most SendCode and SignIn calls ever running at
// the same time.
func (p *Provider) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInflight
}

func (p *Provider) enter(ctx context.Context) error {
	p.mu.Lock()
	p.inflight++
	p.maxInflight = max(p.maxInflight, p.inflight)
	p.mu.Unlock()

	if p.Hold == nil {
		return nil
	}
	select {
	case <-p.Hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) leave() {
	p.mu.Lock()
	p.inflight--
	p.mu.Unlock()
}

// Deliver pushes msg to every live subscription. Messages beyond a
// subscription's buffer are dropped.
func (p *Provider) Deliver(msg provider.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Drop closes every live subscription, simulating a lost connection.
func (p *Provider) Drop() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// Subscribers reports the number of live subscriptions.
func (p *Provider) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

type Session struct {
	p     *Provider
	creds credstore.Credentials

	mu         sync.Mutex
	token      string
	connected  bool
	authorized bool
	closed     bool
}

func (s *Session) Connect(context.Context) error {
	if s.p.ConnectErr != nil {
		return s.p.ConnectErr
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Session) SendCode(ctx context.Context, phone string) (string, error) {
	if !s.isConnected() {
		return "", provider.ErrNotConnected
	}
	defer s.p.leave()
	if err := s.p.enter(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	if !strings.HasPrefix(phone, "+") || len(phone) < 8 {
		return "", fmt.Errorf("%w: PHONE_NUMBER_INVALID", provider.ErrRejected)
	}
	s.p.mu.Lock()
	s.p.codeCalls++
	n := s.p.codeCalls
	s.p.mu.Unlock()
	return fmt.Sprintf("hash-%d", n), nil
}

func (s *Session) SignIn(ctx context.Context, phone, code, codeHash string) error {
	if !s.isConnected() {
		return provider.ErrNotConnected
	}
	defer s.p.leave()
	if err := s.p.enter(ctx); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	if codeHash == "" || code != s.p.ValidCode {
		return provider.ErrInvalidCode
	}
	s.mu.Lock()
	s.authorized = true
	s.token = "authorized:" + phone
	s.mu.Unlock()
	return nil
}

func (s *Session) Authorized(context.Context) (bool, error) {
	if !s.isConnected() {
		return false, provider.ErrNotConnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized, nil
}

func (s *Session) Chats(ctx context.Context) iter.Seq2[provider.Chat, error] {
	return func(yield func(provider.Chat, error) bool) {
		if !s.isConnected() {
			yield(provider.Chat{}, provider.ErrNotConnected)
			return
		}
		for _, c := range s.p.Chats {
			if ctx.Err() != nil {
				yield(provider.Chat{}, ctx.Err())
				return
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (s *Session) SendMessage(_ context.Context, chatID int64, text string) error {
	if !s.isConnected() {
		return provider.ErrNotConnected
	}
	if s.p.SendErr != nil {
		return s.p.SendErr
	}
	s.p.mu.Lock()
	s.p.sent = append(s.p.sent, Sent{ChatID: chatID, Text: text})
	s.p.mu.Unlock()
	return nil
}

func (s *Session) Subscribe(ctx context.Context) (<-chan provider.Message, error) {
	if !s.isConnected() {
		return nil, provider.ErrNotConnected
	}
	ch := make(chan provider.Message, 16)
	s.p.mu.Lock()
	s.p.subs = append(s.p.subs, ch)
	s.p.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.p.mu.Lock()
		defer s.p.mu.Unlock()
		for i, c := range s.p.subs {
			if c == ch {
				s.p.subs = append(s.p.subs[:i], s.p.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch, nil
}

func (s *Session) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
