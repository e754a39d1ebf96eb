// internal/ui/client.go

// Package ui is a terminal status viewer for a running relay. It polls the
// dashboard API and renders it with bubbletea.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

type Balance struct {
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type Status struct {
	Configured    bool     `json:"configured"`
	Authenticated bool     `json:"authenticated"`
	Running       bool     `json:"running"`
	State         string   `json:"state"`
	PeerConnected bool     `json:"peerConnected"`
	Balance       *Balance `json:"balance"`
}

type Stats struct {
	TotalProfit     float64 `json:"totalProfit"`
	WinRate         int     `json:"winRate"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	ActivePositions int     `json:"activePositions"`
	TotalInvested   float64 `json:"totalInvested"`
	Uptime          int64   `json:"uptime"`
}

type Position struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Symbol    string    `json:"symbol"`
	Size      float64   `json:"size"`
	EntryTime time.Time `json:"entryTime"`
	Duration  string    `json:"duration"`
	Status    string    `json:"status"`
}

// Snapshot is everything the viewer shows, fetched in one round.
type Snapshot struct {
	Status    Status
	Stats     Stats
	Positions []Position
	FetchedAt time.Time
}

type Client struct {
	base string
	http *http.Client
}

// NewClient talks to the API at base, e.g. http://localhost:8080.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.get(ctx, "/api/status", &snap.Status) })
	g.Go(func() error { return c.get(ctx, "/api/stats", &snap.Stats) })
	g.Go(func() error { return c.get(ctx, "/api/positions", &snap.Positions) })
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	snap.FetchedAt = time.Now()
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
