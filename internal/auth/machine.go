// internal/auth/machine.go

// Package auth drives the configure, request code, verify code handshake
// against the messaging provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/credstore"
	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/provider"
)

var (
	ErrMissingCredentials   = errors.New("missing credentials")
	ErrCredentialsImmutable = errors.New("credentials already configured")
	ErrNotConfigured        = errors.New("credentials not configured")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrProviderRejected     = errors.New("provider rejected request")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrCodeNotRequested     = errors.New("code not requested")
	ErrInvalidCode          = errors.New("invalid code")
)

// Session is the outcome of a successful login.
type Session struct {
	Phone    string
	CodeHash string
	Token    string
}

// Status is a lock-free snapshot of the machine.
type Status struct {
	State State
	Phone string
}

func (s Status) Configured() bool    { return s.State >= Configured }
func (s Status) Authenticated() bool { return s.State == Authenticated }

// Listener is notified once when the machine reaches Authenticated. The
// session stays owned by the machine.
type Listener func(provider.Session)

type Machine struct {
	logger  *zap.Logger
	store   *credstore.Store
	factory provider.Factory
	bus     *events.Bus

	// mu serializes every mutating operation, including the provider round
	// trips they make.
	mu        sync.Mutex
	session   provider.Session
	codeHash  string
	listeners []Listener

	state atomic.Int32
	phone atomic.Pointer[string]
}

// New creates a machine in Unconfigured. bus may be nil.
func New(logger *zap.Logger, store *credstore.Store, factory provider.Factory, bus *events.Bus) *Machine {
	m := &Machine{
		logger:  logger.Named("auth"),
		store:   store,
		factory: factory,
		bus:     bus,
	}
	if _, ok := store.Credentials(); ok {
		m.state.Store(int32(Configured))
	}
	return m
}

func (m *Machine) State() State {
	return State(m.state.Load())
}

func (m *Machine) Status() Status {
	st := Status{State: m.State()}
	if p := m.phone.Load(); p != nil {
		st.Phone = *p
	}
	return st
}

// OnAuthenticated registers fn. If the machine is already authenticated fn
// runs immediately on the caller's goroutine.
func (m *Machine) OnAuthenticated(fn Listener) {
	m.mu.Lock()
	if m.State() != Authenticated {
		m.listeners = append(m.listeners, fn)
		m.mu.Unlock()
		return
	}
	sess := m.session
	m.mu.Unlock()
	fn(sess)
}

// Provider returns the authenticated session, or nil before login.
func (m *Machine) Provider() provider.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Authenticated {
		return nil
	}
	return m.session
}

func (m *Machine) Configure(creds credstore.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !creds.Complete() {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(creds.Missing(), ", "))
	}
	if err := m.store.SetCredentials(creds); err != nil {
		if errors.Is(err, credstore.ErrAlreadySet) {
			return ErrCredentialsImmutable
		}
		return fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	if m.State() == Unconfigured {
		m.transition(Configured)
	}
	return nil
}

// RequestCode asks the provider to send a login code to phone. Calling it
// again while a code is outstanding resends on the same connection.
func (m *Machine) RequestCode(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case Unconfigured:
		return ErrNotConfigured
	case Authenticated:
		return ErrAlreadyAuthenticated
	}

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("%w: phone is required", ErrProviderRejected)
	}

	sess := m.session
	fresh := sess == nil
	if fresh {
		var err error
		if sess, err = m.connect(ctx); err != nil {
			return err
		}
	}

	hash, err := sess.SendCode(ctx, phone)
	if err != nil {
		if fresh {
			_ = sess.Close()
		}
		m.logger.Warn("Code request failed", zap.String("phone", maskPhone(phone)), zap.Error(err))
		return mapProviderError(err)
	}

	m.session = sess
	m.codeHash = hash
	m.phone.Store(&phone)
	m.logger.Info("Login code sent", zap.String("phone", maskPhone(phone)), zap.Bool("resend", !fresh))
	if m.State() != CodeSent {
		m.transition(CodeSent)
	}
	return nil
}

// VerifyCode completes the login with the code the user received. A wrong
// code leaves the machine waiting for another attempt.
func (m *Machine) VerifyCode(ctx context.Context, code string) (Session, error) {
	m.mu.Lock()

	if m.State() != CodeSent {
		m.mu.Unlock()
		return Session{}, ErrCodeNotRequested
	}
	code = strings.TrimSpace(code)
	if code == "" {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("%w: code is required", ErrInvalidCode)
	}

	phone := m.Status().Phone
	if err := m.session.SignIn(ctx, phone, code, m.codeHash); err != nil {
		m.mu.Unlock()
		m.logger.Warn("Code verification failed", zap.Error(err))
		return Session{}, mapProviderError(err)
	}

	out := Session{Phone: phone, CodeHash: m.codeHash}
	token, err := m.session.Token()
	if err == nil {
		out.Token = token
		err = m.store.SaveSession(token)
	}
	if err != nil {
		// The login itself succeeded; the next restart will ask for a code.
		m.logger.Error("Failed to persist session", zap.Error(err))
	}

	m.transition(Authenticated)
	listeners, sess := m.takeListeners()
	m.mu.Unlock()

	notify(listeners, sess)
	return out, nil
}

// Restore reuses a persisted session token, skipping the code exchange when
// the provider still considers it authorized.
func (m *Machine) Restore(ctx context.Context) (bool, error) {
	m.mu.Lock()

	switch m.State() {
	case Authenticated:
		m.mu.Unlock()
		return true, nil
	case Unconfigured:
		m.mu.Unlock()
		return false, nil
	}

	if _, err := m.store.LoadSession(); err != nil {
		m.mu.Unlock()
		if errors.Is(err, credstore.ErrNoSession) {
			return false, nil
		}
		return false, err
	}

	sess, err := m.connect(ctx)
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	ok, err := sess.Authorized(ctx)
	if err != nil || !ok {
		_ = sess.Close()
		m.mu.Unlock()
		if err != nil {
			return false, mapProviderError(err)
		}
		m.logger.Info("Persisted session is no longer authorized")
		return false, nil
	}

	if m.session != nil {
		_ = m.session.Close()
	}
	m.session = sess
	m.logger.Info("Session restored", zap.String("file", m.store.Path()))
	m.transition(Authenticated)
	listeners, live := m.takeListeners()
	m.mu.Unlock()

	notify(listeners, live)
	return true, nil
}

// Close releases the provider connection. The state is left untouched.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}

// connect builds a session, reusing the persisted token when there is one.
// Callers hold mu.
func (m *Machine) connect(ctx context.Context) (provider.Session, error) {
	creds, ok := m.store.Credentials()
	if !ok {
		return nil, ErrNotConfigured
	}
	token, err := m.store.LoadSession()
	if err != nil && !errors.Is(err, credstore.ErrNoSession) {
		m.logger.Warn("Ignoring unreadable session file", zap.Error(err))
	}

	sess, err := m.factory.NewSession(creds, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if err := sess.Connect(ctx); err != nil {
		_ = sess.Close()
		m.logger.Warn("Provider connect failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return sess, nil
}

func (m *Machine) transition(to State) {
	from := State(m.state.Swap(int32(to)))
	m.logger.Info("Auth state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	if m.bus != nil {
		_ = m.bus.Publish(events.AuthStateChangedEvent{
			BaseEvent: events.NewBase(events.AuthStateChanged),
			From:      from.String(),
			To:        to.String(),
		})
	}
}

func (m *Machine) takeListeners() ([]Listener, provider.Session) {
	l := m.listeners
	m.listeners = nil
	return l, m.session
}

func notify(listeners []Listener, sess provider.Session) {
	for _, fn := range listeners {
		fn(sess)
	}
}

func mapProviderError(err error) error {
	switch {
	case errors.Is(err, provider.ErrInvalidCode):
		return fmt.Errorf("%w: %v", ErrInvalidCode, err)
	case errors.Is(err, provider.ErrRejected), errors.Is(err, provider.ErrPasswordRequired):
		return fmt.Errorf("%w: %v", ErrProviderRejected, err)
	default:
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
