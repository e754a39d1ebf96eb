// internal/provider/provider.go

// Package provider describes the narrow slice of a messaging client the bot
// needs: phone login, chat listing, sending text and receiving new messages.
package provider

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/rovshanmuradov/toxi-relay/internal/credstore"
)

var (
	// ErrUnavailable marks transport level failures: the provider could not
	// be reached or the connection dropped.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrRejected marks a request the provider refused, e.g. a malformed
	// phone number or flood wait.
	ErrRejected         = errors.New("provider rejected request")
	ErrInvalidCode      = errors.New("invalid or expired code")
	ErrPasswordRequired = errors.New("two-factor password required")
	ErrNotConnected     = errors.New("session not connected")
)

type Chat struct {
	ID       int64
	Name     string
	Username string
}

type Message struct {
	ChatID   int64
	Text     string
	Date     time.Time
	Outgoing bool
}

// Session is one authenticated (or authenticating) client connection.
type Session interface {
	Connect(ctx context.Context) error
	// SendCode asks the provider to deliver a login code and returns the
	// hash that must accompany it on sign in.
	SendCode(ctx context.Context, phone string) (string, error)
	SignIn(ctx context.Context, phone, code, codeHash string) error
	Authorized(ctx context.Context) (bool, error)
	// Chats lists the dialogs lazily; iteration stops at the first error.
	Chats(ctx context.Context) iter.Seq2[Chat, error]
	SendMessage(ctx context.Context, chatID int64, text string) error
	// Subscribe streams incoming messages until ctx is done or the
	// connection drops, at which point the channel is closed.
	Subscribe(ctx context.Context) (<-chan Message, error)
	// Token serializes the session so it can be restored later.
	Token() (string, error)
	Close() error
}

// Factory builds sessions. token is empty for a fresh login.
type Factory interface {
	NewSession(creds credstore.Credentials, token string) (Session, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(creds credstore.Credentials, token string) (Session, error)

func (f FactoryFunc) NewSession(creds credstore.Credentials, token string) (Session, error) {
	return f(creds, token)
}
