// internal/provider/telegram/session_test.go
package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/toxi-relay/internal/credstore"
	"github.com/rovshanmuradov/toxi-relay/internal/provider"
)

func TestMemoryStorage(t *testing.T) {
	var m memoryStorage
	_, err := m.LoadSession(context.Background())
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, m.StoreSession(context.Background(), []byte("abc")))
	got, err := m.LoadSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestNewSessionRestoresToken(t *testing.T) {
	f := NewFactory(zaptest.NewLogger(t))
	token := base64.StdEncoding.EncodeToString([]byte("persisted"))

	s, err := f.NewSession(credstore.Credentials{APIID: 1, APIHash: "h"}, token)
	require.NoError(t, err)

	got, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, token, got)

	_, err = f.NewSession(credstore.Credentials{APIID: 1, APIHash: "h"}, "%%%")
	assert.Error(t, err)
}

func TestDisconnectedSessionFailsFast(t *testing.T) {
	s, err := NewFactory(zaptest.NewLogger(t)).NewSession(credstore.Credentials{APIID: 1, APIHash: "h"}, "")
	require.NoError(t, err)

	_, err = s.SendCode(context.Background(), "+61400000000")
	assert.ErrorIs(t, err, provider.ErrNotConnected)
	assert.ErrorIs(t, s.SendMessage(context.Background(), 1, "/start"), provider.ErrNotConnected)

	for _, err := range s.Chats(context.Background()) {
		assert.ErrorIs(t, err, provider.ErrNotConnected)
	}

	_, err = s.Token()
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(tgerr.New(400, "PHONE_CODE_INVALID")), provider.ErrInvalidCode)
	assert.ErrorIs(t, mapError(tgerr.New(400, "PHONE_CODE_EXPIRED")), provider.ErrInvalidCode)
	assert.ErrorIs(t, mapError(tgerr.New(400, "PHONE_NUMBER_INVALID")), provider.ErrRejected)
	assert.ErrorIs(t, mapError(auth.ErrPasswordAuthNeeded), provider.ErrPasswordRequired)
	assert.ErrorIs(t, mapError(errors.New("connection reset")), provider.ErrUnavailable)
}

func TestPeerKeysDoNotCollide(t *testing.T) {
	user := peerKey(&tg.PeerUser{UserID: 42})
	group := peerKey(&tg.PeerChat{ChatID: 42})
	channel := peerKey(&tg.PeerChannel{ChannelID: 42})

	assert.Equal(t, int64(42), user)
	assert.Equal(t, int64(-42), group)
	assert.NotEqual(t, group, channel)
	assert.Less(t, channel, int64(-channelOffset))
}

func TestIndexResolvesDialogs(t *testing.T) {
	s := &Session{peers: make(map[int64]tg.InputPeerClass)}
	page := dialogsPage{
		dialogs: []tg.DialogClass{
			&tg.Dialog{Peer: &tg.PeerUser{UserID: 7}, TopMessage: 10},
			&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 9}, TopMessage: 11},
			&tg.Dialog{Peer: &tg.PeerUser{UserID: 8}},
		},
		users: []tg.UserClass{
			&tg.User{ID: 7, AccessHash: 70, FirstName: "Toxi", LastName: "Bot", Username: "toxi_solana_bot"},
		},
		chats: []tg.ChatClass{
			&tg.Channel{ID: 9, AccessHash: 90, Title: "News"},
		},
		messages: []tg.MessageClass{
			&tg.Message{ID: 11, Date: 1700000000},
		},
	}

	chats := s.index(page)
	require.Len(t, chats, 2)
	assert.Equal(t, provider.Chat{ID: 7, Name: "Toxi Bot", Username: "toxi_solana_bot"}, chats[0])
	assert.Equal(t, "News", chats[1].Name)

	peer, ok := s.inputPeer(7)
	require.True(t, ok)
	assert.Equal(t, &tg.InputPeerUser{UserID: 7, AccessHash: 70}, peer)

	req := &tg.MessagesGetDialogsRequest{}
	require.False(t, page.advance(req, s), "last dialog has no resolvable peer")

	page.dialogs = page.dialogs[:2]
	require.True(t, page.advance(req, s))
	assert.Equal(t, 11, req.OffsetID)
	assert.Equal(t, 1700000000, req.OffsetDate)
}

// fakeClient mimics gotd's run-once client: Run blocks until ctx ends or
// drop is called, and refuses to run a second time.
type fakeClient struct {
	mu   sync.Mutex
	ran  bool
	drop chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{drop: make(chan struct{})}
}

func (c *fakeClient) Run(ctx context.Context, f func(ctx context.Context) error) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return errors.New("client already closed")
	}
	c.ran = true
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.drop:
			cancel()
		case <-runCtx.Done():
		}
	}()
	return f(runCtx)
}

func (c *fakeClient) API() *tg.Client                        { return tg.NewClient(nil) }
func (c *fakeClient) Auth() *auth.Client                     { return nil }
func (c *fakeClient) Self(context.Context) (*tg.User, error) { return &tg.User{ID: 1}, nil }

func fakeSession(t *testing.T) (*Session, func() []*fakeClient) {
	t.Helper()
	var (
		mu      sync.Mutex
		clients []*fakeClient
	)
	s := newSession(zaptest.NewLogger(t), &memoryStorage{})
	s.dial = func(h telegram.UpdateHandler) client {
		mu.Lock()
		defer mu.Unlock()
		c := newFakeClient()
		clients = append(clients, c)
		return c
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, func() []*fakeClient {
		mu.Lock()
		defer mu.Unlock()
		return append([]*fakeClient(nil), clients...)
	}
}

func receive(t *testing.T, ch <-chan provider.Message) provider.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return provider.Message{}
	}
}

func TestShortUpdatesReachSubscribers(t *testing.T) {
	s, _ := fakeSession(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	msgs, err := s.Subscribe(ctx)
	require.NoError(t, err)

	s.mu.Lock()
	h := s.updates
	s.mu.Unlock()

	require.NoError(t, h.Handle(ctx, &tg.UpdateShortMessage{
		ID: 5, UserID: 777, Message: "✅ Buy successful", Date: 1700000000,
	}))
	msg := receive(t, msgs)
	assert.Equal(t, int64(777), msg.ChatID)
	assert.Equal(t, "✅ Buy successful", msg.Text)
	assert.False(t, msg.Outgoing)

	require.NoError(t, h.Handle(ctx, &tg.UpdateShortChatMessage{
		ID: 6, FromID: 777, ChatID: 42, Message: "Balance: 1.25 SOL", Date: 1700000001,
	}))
	msg = receive(t, msgs)
	assert.Equal(t, int64(-42), msg.ChatID)
	assert.Equal(t, "Balance: 1.25 SOL", msg.Text)

	require.NoError(t, h.Handle(ctx, &tg.Updates{
		Updates: []tg.UpdateClass{&tg.UpdateNewMessage{
			Message: &tg.Message{ID: 7, PeerID: &tg.PeerUser{UserID: 777}, Message: "❌ Sell failed"},
		}},
	}))
	assert.Equal(t, "❌ Sell failed", receive(t, msgs).Text)
}

func TestReconnectDialsNewClient(t *testing.T) {
	s, clients := fakeSession(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	msgs, err := s.Subscribe(ctx)
	require.NoError(t, err)

	close(clients()[0].drop)
	for range msgs {
	}

	_, err = s.Subscribe(ctx)
	require.ErrorIs(t, err, provider.ErrNotConnected)

	require.NoError(t, s.Connect(ctx), "a dropped connection can be reopened")
	require.Len(t, clients(), 2)

	msgs, err = s.Subscribe(ctx)
	require.NoError(t, err)

	s.mu.Lock()
	h := s.updates
	s.mu.Unlock()
	require.NoError(t, h.Handle(ctx, &tg.UpdateShortMessage{ID: 8, UserID: 777, Message: "Balance: 2 SOL"}))
	assert.Equal(t, "Balance: 2 SOL", receive(t, msgs).Text)
}

func TestConnectIsIdempotentWhileLive(t *testing.T) {
	s, clients := fakeSession(t)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Len(t, clients(), 1)

	require.NoError(t, s.Close())
	_, err := s.apiClient()
	assert.ErrorIs(t, err, provider.ErrNotConnected)
}
