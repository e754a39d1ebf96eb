// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/auth"
	"github.com/rovshanmuradov/toxi-relay/internal/credstore"
	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/export"
	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
	"github.com/rovshanmuradov/toxi-relay/internal/relay"
)

const defaultActivityLimit = 50

type statusResponse struct {
	Configured    bool           `json:"configured"`
	Authenticated bool           `json:"authenticated"`
	Running       bool           `json:"running"`
	State         string         `json:"state"`
	PeerConnected bool           `json:"peerConnected"`
	Balance       *relay.Balance `json:"balance,omitempty"`
	Events        *events.Stats  `json:"events,omitempty"`
}

type authStatusResponse struct {
	Authenticated bool `json:"authenticated"`
	TelegramReady bool `json:"telegram_ready"`
	BotRunning    bool `json:"bot_running"`
}

type credentialsRequest struct {
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type okResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statsResponse struct {
	TotalProfit     float64 `json:"totalProfit"`
	WinRate         int     `json:"winRate"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	ActivePositions int     `json:"activePositions"`
	TotalInvested   float64 `json:"totalInvested"`
	// Uptime is in seconds.
	Uptime int64 `json:"uptime"`
}

type positionResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Symbol    string    `json:"symbol"`
	Size      float64   `json:"size"`
	EntryTime time.Time `json:"entryTime"`
	Duration  string    `json:"duration"`
	Status    string    `json:"status"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := strings.ReplaceAll(indexPage, phonePlaceholder, html.EscapeString(s.deps.Phone))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Auth.Status()
	resp := statusResponse{
		Configured:    st.Configured(),
		Authenticated: st.Authenticated(),
		Running:       s.running(),
		State:         st.State.String(),
	}
	if s.deps.Relay != nil {
		resp.PeerConnected = s.deps.Relay.Connected()
		if b, ok := s.deps.Relay.Balance(); ok {
			resp.Balance = &b
		}
	}
	if s.deps.Bus != nil {
		stats := s.deps.Bus.Stats()
		resp.Events = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	authenticated := s.deps.Auth.Status().Authenticated()
	writeJSON(w, http.StatusOK, authStatusResponse{
		Authenticated: authenticated,
		TelegramReady: authenticated && s.deps.Relay != nil && s.deps.Relay.Connected(),
		BotRunning:    s.running(),
	})
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	creds := credstore.Credentials{APIID: req.APIID, APIHash: strings.TrimSpace(req.APIHash)}
	if err := s.deps.Auth.Configure(creds); err != nil {
		s.logger.Warn("Credential setup rejected", zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "configured"})
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	if err := s.deps.Auth.RequestCode(r.Context(), req.Phone); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "code_sent"})
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	if _, err := s.deps.Auth.VerifyCode(r.Context(), req.Code); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "authenticated"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) stats() statsResponse {
	c := s.deps.Ledger.Counters()
	st := monitor.Compute(c)
	return statsResponse{
		TotalProfit:     st.TotalProfit.InexactFloat64(),
		WinRate:         st.WinRate,
		Wins:            st.Wins,
		Losses:          st.Losses,
		ActivePositions: st.ActivePositions,
		TotalInvested:   monitor.Invested(c, s.deps.PositionSize).InexactFloat64(),
		Uptime:          int64(time.Since(s.deps.StartedAt).Seconds()),
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	positions := s.deps.Ledger.Positions()
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		held := p.Held(now)
		out = append(out, positionResponse{
			ID:        p.ID,
			Token:     p.Token,
			Symbol:    p.Symbol,
			Size:      p.Amount.InexactFloat64(),
			EntryTime: p.EntryTime,
			Duration:  fmt.Sprintf("%dh %dm", int(held.Hours()), int(held.Minutes())%60),
			Status:    p.Status.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activity == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}

	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.deps.Activity.Recent(limit))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := export.Options{
		Format:   format,
		Token:    q.Get("token"),
		OnlyWins: q.Get("wins") == "true",
	}
	if v := q.Get("since"); v != "" {
		if opts.Since, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
			return
		}
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", export.Filename(format, time.Now())))
	if _, err := s.deps.Exporter.Write(w, s.deps.Ledger.Closed(), opts); err != nil {
		s.logger.Error("Trade export failed", zap.Error(err))
	}
}

func (s *Server) running() bool {
	return s.deps.Engine != nil && s.deps.Engine.Running()
}

// statusFor maps handshake errors to HTTP codes: caller mistakes are 400,
// provider outages and anything unexpected are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrProviderUnavailable):
		return http.StatusInternalServerError
	case errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, auth.ErrCredentialsImmutable),
		errors.Is(err, auth.ErrNotConfigured),
		errors.Is(err, auth.ErrProviderRejected),
		errors.Is(err, auth.ErrAlreadyAuthenticated),
		errors.Is(err, auth.ErrCodeNotRequested),
		errors.Is(err, auth.ErrInvalidCode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
