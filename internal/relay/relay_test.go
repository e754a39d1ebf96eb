// internal/relay/relay_test.go
package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/toxi-relay/internal/credstore"
	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/provider"
	"github.com/rovshanmuradov/toxi-relay/internal/provider/providertest"
)

const peerID = 777

func connectedSession(t *testing.T, fake *providertest.Provider) provider.Session {
	t.Helper()
	sess, err := fake.NewSession(credstore.Credentials{APIID: 1, APIHash: "h"}, "")
	require.NoError(t, err)
	require.NoError(t, sess.Connect(context.Background()))
	return sess
}

func newFake() *providertest.Provider {
	fake := providertest.New()
	fake.Chats = []provider.Chat{
		{ID: 1, Name: "Family"},
		{ID: peerID, Name: "Trading Bot", Username: "TOXI_solana_bot"},
		{ID: 900, Name: "Toxi Fans"},
	}
	return fake
}

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Kind
	}{
		{"Balance: 1.25 SOL", BalanceReport},
		{"✅ Buy Successful", TradeConfirmed},
		{"✅ done", Unclassified},
		{"successful", Unclassified},
		{"❌ Sell failed: slippage", TradeFailed},
		{"Balance: 0 ❌", BalanceReport},
		{"✅ successful ❌", TradeConfirmed},
		{"hello", Unclassified},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.text), tc.text)
	}
}

func TestCommandFormat(t *testing.T) {
	assert.Equal(t, "/buy Mint 0.050 0.15", BuyCommand("Mint", decimal.RequireFromString("0.05"), 0.15))
	assert.Equal(t, "/sell Mint 80", SellCommand("Mint", 80))
	assert.Equal(t, "/sell Mint 100", SellCommand("Mint", 100))
}

func TestLocateMatchesUsernameCaseInsensitive(t *testing.T) {
	fake := newFake()
	r := New(Config{}, zaptest.NewLogger(t), nil)
	r.Attach(connectedSession(t, fake))

	chat, err := r.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(peerID), chat.ID, "first match in dialog order wins")
	assert.True(t, r.Connected())
}

func TestLocateNotFound(t *testing.T) {
	fake := newFake()
	fake.Chats = fake.Chats[:1]
	r := New(Config{}, zaptest.NewLogger(t), nil)

	_, err := r.Locate(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	r.Attach(connectedSession(t, fake))
	_, err = r.Locate(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, r.Connected())
}

func TestSendErrors(t *testing.T) {
	fake := newFake()
	bus := events.NewBus(zaptest.NewLogger(t), 8)
	defer bus.Shutdown(context.Background())

	failed := make(chan events.CommandFailedEvent, 4)
	bus.SubscribeFunc(events.CommandFailed, func(_ context.Context, e events.Event) error {
		failed <- e.(events.CommandFailedEvent)
		return nil
	})

	r := New(Config{}, zaptest.NewLogger(t), bus)

	err := r.Sell(context.Background(), "Mint", 100)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "/sell Mint 100", cmdErr.Command)
	assert.ErrorIs(t, err, ErrNotConnected)

	r.Attach(connectedSession(t, fake))
	fake.SendErr = errors.New("FLOOD_WAIT")
	err = r.Buy(context.Background(), "Mint", decimal.RequireFromString("0.05"), 0.15)
	assert.ErrorIs(t, err, ErrTransport)

	for i := 0; i < 2; i++ {
		select {
		case <-failed:
		case <-time.After(time.Second):
			t.Fatal("missing command failed event")
		}
	}
}

func TestBuyLocatesPeerLazily(t *testing.T) {
	fake := newFake()
	r := New(Config{}, zaptest.NewLogger(t), nil)
	r.Attach(connectedSession(t, fake))

	require.NoError(t, r.Buy(context.Background(), "Mint", decimal.RequireFromString("0.05"), 0.15))
	require.Equal(t, []providertest.Sent{{ChatID: peerID, Text: "/buy Mint 0.050 0.15"}}, fake.Sent())
}

func TestRunClassifiesAndResubscribes(t *testing.T) {
	fake := newFake()
	bus := events.NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	var mu sync.Mutex
	var kinds []string
	bus.SubscribeFunc(events.PeerMessage, func(_ context.Context, e events.Event) error {
		mu.Lock()
		kinds = append(kinds, e.(events.PeerMessageEvent).Kind)
		mu.Unlock()
		return nil
	})

	r := New(Config{RetryInitial: 5 * time.Millisecond, RetryMax: 20 * time.Millisecond, Greet: true}, zaptest.NewLogger(t), bus)
	r.Attach(connectedSession(t, fake))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return fake.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "/start", fake.Sent()[0].Text)

	fake.Deliver(provider.Message{ChatID: 1, Text: "Balance: 99 SOL"})
	fake.Deliver(provider.Message{ChatID: peerID, Text: "Balance: 1.5 SOL", Date: time.Unix(1700000000, 0)})
	fake.Deliver(provider.Message{ChatID: peerID, Text: "/buy x", Outgoing: true})
	fake.Deliver(provider.Message{ChatID: peerID, Text: "✅ Buy successful"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 2
	}, time.Second, 5*time.Millisecond)

	bal, ok := r.Balance()
	require.True(t, ok)
	assert.Equal(t, "Balance: 1.5 SOL", bal.Text)

	fake.Drop()
	require.Eventually(t, func() bool { return fake.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	fake.Deliver(provider.Message{ChatID: peerID, Text: "❌ failed"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"balance_report", "trade_confirmed", "trade_failed"}, kinds)
}

func TestRunKeepsRetryingWithoutPeer(t *testing.T) {
	fake := newFake()
	fake.Chats = fake.Chats[:1]

	r := New(Config{RetryInitial: 5 * time.Millisecond, RetryMax: 10 * time.Millisecond}, zaptest.NewLogger(t), nil)
	r.Attach(connectedSession(t, fake))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(40 * time.Millisecond)
	assert.False(t, r.Connected())
	assert.Zero(t, fake.Subscribers())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestDryRun(t *testing.T) {
	d := NewDryRun(zaptest.NewLogger(t))
	assert.NoError(t, d.Buy(context.Background(), "Mint", decimal.RequireFromString("0.05"), 0.15))
	assert.NoError(t, d.Sell(context.Background(), "Mint", 80))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Sell(ctx, "Mint", 80), context.Canceled)
}
