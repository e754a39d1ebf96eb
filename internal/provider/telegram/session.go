// internal/provider/telegram/session.go

// Package telegram implements provider.Session on top of the gotd MTProto
// client.
package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/credstore"
	"github.com/rovshanmuradov/toxi-relay/internal/provider"
)

const dialogsPageSize = 100

// client is the part of *telegram.Client a session drives. A gotd client
// can run only once, so every connection dials a new one.
type client interface {
	Run(ctx context.Context, f func(ctx context.Context) error) error
	API() *tg.Client
	Auth() *auth.Client
	Self(ctx context.Context) (*tg.User, error)
}

// Factory creates gotd backed sessions.
type Factory struct {
	logger *zap.Logger
}

func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{logger: logger.Named("telegram")}
}

func (f *Factory) NewSession(creds credstore.Credentials, token string) (provider.Session, error) {
	storage := &memoryStorage{}
	if token != "" {
		data, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("decode session token: %w", err)
		}
		storage.data = data
	}

	s := newSession(f.logger, storage)
	s.dial = func(h telegram.UpdateHandler) client {
		return telegram.NewClient(creds.APIID, creds.APIHash, telegram.Options{
			SessionStorage: storage,
			UpdateHandler:  h,
			Logger:         f.logger.Named("mtproto"),
		})
	}
	return s, nil
}

func newSession(logger *zap.Logger, storage *memoryStorage) *Session {
	s := &Session{
		logger:     logger,
		storage:    storage,
		peers:      make(map[int64]tg.InputPeerClass),
		dispatcher: tg.NewUpdateDispatcher(),
	}
	s.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		s.dispatch(u.Message)
		return nil
	})
	s.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		s.dispatch(u.Message)
		return nil
	})
	return s
}

// Session owns one logical login. Each Connect runs a fresh client over the
// same storage, so the auth key survives dropped connections. The
// connection runs on its own context so it outlives the request that
// opened it.
type Session struct {
	logger     *zap.Logger
	storage    *memoryStorage
	dispatcher tg.UpdateDispatcher
	dial       func(telegram.UpdateHandler) client

	connMu sync.Mutex // serializes Connect

	mu         sync.Mutex
	client     client
	updates    *updateHandler
	api        *tg.Client
	runCtx     context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	authorized bool
	peers      map[int64]tg.InputPeerClass
	listeners  map[chan provider.Message]struct{}
}

func (s *Session) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	if s.api != nil {
		s.mu.Unlock()
		return nil
	}
	h := newUpdateHandler(s.dispatcher, s.dispatch, s.logger)
	c := s.dial(h)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.client, s.updates = c, h
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	ready := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		defer close(done)
		err := c.Run(runCtx, func(ctx context.Context) error {
			s.mu.Lock()
			s.api = c.API()
			s.runCtx = ctx
			track := s.authorized
			s.mu.Unlock()
			close(ready)

			if track {
				s.track(ctx, c, h)
			}
			<-ctx.Done()
			return ctx.Err()
		})
		s.disconnected(c)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Connection closed", zap.Error(err))
		}
		errCh <- err
	}()

	select {
	case <-ready:
		s.logger.Debug("Connected")
		return nil
	case err := <-errCh:
		cancel()
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, ctx.Err())
	}
}

func (s *Session) SendCode(ctx context.Context, phone string) (string, error) {
	c, err := s.current()
	if err != nil {
		return "", err
	}
	sent, err := c.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", mapError(err)
	}
	switch v := sent.(type) {
	case *tg.AuthSentCode:
		return v.PhoneCodeHash, nil
	default:
		return "", fmt.Errorf("%w: unexpected sent code type %T", provider.ErrRejected, sent)
	}
}

func (s *Session) SignIn(ctx context.Context, phone, code, codeHash string) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	if _, err := c.Auth().SignIn(ctx, phone, code, codeHash); err != nil {
		return mapError(err)
	}
	s.signedIn(c)
	return nil
}

func (s *Session) Authorized(ctx context.Context) (bool, error) {
	c, err := s.current()
	if err != nil {
		return false, err
	}
	status, err := c.Auth().Status(ctx)
	if err != nil {
		return false, mapError(err)
	}
	if status.Authorized {
		s.signedIn(c)
	}
	return status.Authorized, nil
}

// Chats walks the dialog list page by page.
func (s *Session) Chats(ctx context.Context) iter.Seq2[provider.Chat, error] {
	return func(yield func(provider.Chat, error) bool) {
		api, err := s.apiClient()
		if err != nil {
			yield(provider.Chat{}, err)
			return
		}

		req := &tg.MessagesGetDialogsRequest{
			OffsetPeer: &tg.InputPeerEmpty{},
			Limit:      dialogsPageSize,
		}
		for {
			res, err := api.MessagesGetDialogs(ctx, req)
			if err != nil {
				yield(provider.Chat{}, mapError(err))
				return
			}

			var page dialogsPage
			switch v := res.(type) {
			case *tg.MessagesDialogs:
				page = dialogsPage{dialogs: v.Dialogs, messages: v.Messages, chats: v.Chats, users: v.Users, last: true}
			case *tg.MessagesDialogsSlice:
				page = dialogsPage{dialogs: v.Dialogs, messages: v.Messages, chats: v.Chats, users: v.Users}
			default:
				return
			}

			chats := s.index(page)
			for _, c := range chats {
				if !yield(c, nil) {
					return
				}
			}
			if page.last || len(page.dialogs) < dialogsPageSize || !page.advance(req, s) {
				return
			}
		}
	}
}

func (s *Session) SendMessage(ctx context.Context, chatID int64, text string) error {
	api, err := s.apiClient()
	if err != nil {
		return err
	}
	s.mu.Lock()
	peer, ok := s.peers[chatID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown chat %d", provider.ErrRejected, chatID)
	}
	if _, err := message.NewSender(api).To(peer).Text(ctx, text); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Session) Subscribe(ctx context.Context) (<-chan provider.Message, error) {
	if _, err := s.apiClient(); err != nil {
		return nil, err
	}
	ch := make(chan provider.Message, 32)

	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[chan provider.Message]struct{})
	}
	s.listeners[ch] = struct{}{}
	done := s.done
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		s.removeListener(ch)
	}()
	return ch, nil
}

func (s *Session) Token() (string, error) {
	data := s.storage.bytes()
	if len(data) == 0 {
		return "", errors.New("session not established")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Session) apiClient() (*tg.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return nil, provider.ErrNotConnected
	}
	return s.api, nil
}

func (s *Session) current() (client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		return nil, provider.ErrNotConnected
	}
	return s.client, nil
}

// signedIn remembers that the login is authorized and starts gap tracking
// on the live connection of c.
func (s *Session) signedIn(c client) {
	s.mu.Lock()
	s.authorized = true
	ctx, h := s.runCtx, s.updates
	live := s.client == c && s.api != nil
	s.mu.Unlock()
	if live {
		s.track(ctx, c, h)
	}
}

// track runs the gap manager for one connection. Until it starts, short
// updates are converted by the handler itself.
func (s *Session) track(ctx context.Context, c client, h *updateHandler) {
	if !h.claim() {
		return
	}
	go func() {
		self, err := c.Self(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Update tracking not started", zap.Error(err))
			}
			return
		}
		err = h.gaps.Run(ctx, c.API(), self.ID, updates.AuthOptions{
			IsBot:   self.Bot,
			OnStart: func(context.Context) { h.tracking.Store(true) },
		})
		h.tracking.Store(false)
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("Update tracking stopped", zap.Error(err))
		}
	}()
}

func (s *Session) disconnected(c client) {
	s.mu.Lock()
	if s.client != c {
		s.mu.Unlock()
		return
	}
	s.api = nil
	s.cancel = nil
	s.runCtx = nil
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for ch := range listeners {
		close(ch)
	}
}

func (s *Session) removeListener(ch chan provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[ch]; ok {
		delete(s.listeners, ch)
		close(ch)
	}
}

func (s *Session) dispatch(m tg.MessageClass) {
	msg, ok := m.(*tg.Message)
	if !ok {
		return
	}
	out := provider.Message{
		ChatID:   peerKey(msg.PeerID),
		Text:     msg.Message,
		Date:     time.Unix(int64(msg.Date), 0),
		Outgoing: msg.Out,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.listeners {
		select {
		case ch <- out:
		default:
			s.logger.Warn("Subscriber lagging, message dropped", zap.Int64("chat_id", out.ChatID))
		}
	}
}

// index caches input peers for every dialog on the page and returns them as
// chats in dialog order.
func (s *Session) index(page dialogsPage) []provider.Chat {
	users := make(map[int64]*tg.User, len(page.users))
	for _, u := range page.users {
		if user, ok := u.(*tg.User); ok {
			users[user.ID] = user
		}
	}
	groups := make(map[int64]tg.ChatClass, len(page.chats))
	for _, c := range page.chats {
		groups[c.GetID()] = c
	}

	chats := make([]provider.Chat, 0, len(page.dialogs))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range page.dialogs {
		dialog, ok := d.(*tg.Dialog)
		if !ok {
			continue
		}
		chat, input, ok := resolve(dialog.Peer, users, groups)
		if !ok {
			continue
		}
		s.peers[chat.ID] = input
		chats = append(chats, chat)
	}
	return chats
}

func (s *Session) inputPeer(key int64) (tg.InputPeerClass, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[key]
	return p, ok
}

// Chat ids follow the bot API convention so users, groups and channels never
// collide: users are positive, groups negative, channels below -1e12.
const channelOffset = 1_000_000_000_000

func peerKey(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return -v.ChatID
	case *tg.PeerChannel:
		return -channelOffset - v.ChannelID
	default:
		return 0
	}
}

func resolve(p tg.PeerClass, users map[int64]*tg.User, groups map[int64]tg.ChatClass) (provider.Chat, tg.InputPeerClass, bool) {
	key := peerKey(p)
	switch v := p.(type) {
	case *tg.PeerUser:
		u, ok := users[v.UserID]
		if !ok {
			return provider.Chat{}, nil, false
		}
		name := u.FirstName
		if u.LastName != "" {
			name += " " + u.LastName
		}
		return provider.Chat{ID: key, Name: name, Username: u.Username},
			&tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}, true
	case *tg.PeerChat:
		c, ok := groups[v.ChatID].(*tg.Chat)
		if !ok {
			return provider.Chat{}, nil, false
		}
		return provider.Chat{ID: key, Name: c.Title}, &tg.InputPeerChat{ChatID: c.ID}, true
	case *tg.PeerChannel:
		c, ok := groups[v.ChannelID].(*tg.Channel)
		if !ok {
			return provider.Chat{}, nil, false
		}
		return provider.Chat{ID: key, Name: c.Title, Username: c.Username},
			&tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash}, true
	default:
		return provider.Chat{}, nil, false
	}
}

type dialogsPage struct {
	dialogs  []tg.DialogClass
	messages []tg.MessageClass
	chats    []tg.ChatClass
	users    []tg.UserClass
	last     bool
}

// advance moves req's offsets past the last dialog on the page.
func (p dialogsPage) advance(req *tg.MessagesGetDialogsRequest, s *Session) bool {
	last, ok := p.dialogs[len(p.dialogs)-1].(*tg.Dialog)
	if !ok {
		return false
	}
	peer, ok := s.inputPeer(peerKey(last.Peer))
	if !ok {
		return false
	}
	for _, m := range p.messages {
		if msg, ok := m.(*tg.Message); ok && msg.ID == last.TopMessage {
			req.OffsetDate = msg.Date
			break
		}
	}
	req.OffsetID = last.TopMessage
	req.OffsetPeer = peer
	return true
}

func mapError(err error) error {
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return fmt.Errorf("%w: %v", provider.ErrPasswordRequired, err)
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EXPIRED", "PHONE_CODE_EMPTY", "PHONE_CODE_HASH_EMPTY"):
		return fmt.Errorf("%w: %v", provider.ErrInvalidCode, err)
	}
	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %v", provider.ErrRejected, err)
	}
	return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
}
