// internal/notify/text.go
package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/rovshanmuradov/toxi-relay/internal/events"
)

func StartedText(ev events.EngineStartedEvent) string {
	return fmt.Sprintf("🚀 Bot started in <b>%s</b> mode!", html.EscapeString(ev.Mode))
}

func OpenedText(ev events.PositionOpenedEvent) string {
	return fmt.Sprintf("🚀 BOUGHT <b>%s</b>\nToken: <code>%s</code>\nAmount: %s SOL",
		html.EscapeString(ev.Symbol), html.EscapeString(ev.Token), ev.Amount.String())
}

func ClosedText(ev events.PositionClosedEvent) string {
	head := "💰 Sold"
	if ev.Status == "CLOSED_STOP" {
		head = "🛑 Stopped out of"
	}
	return fmt.Sprintf("%s <b>%s</b>\nHeld for %.1f hours\nProfit: %s SOL",
		head, html.EscapeString(ev.Symbol), ev.Held.Hours(), ev.Profit.StringFixed(4))
}

func DailyText(ev events.HealthReportEvent) string {
	var b strings.Builder
	b.WriteString("📊 <b>Daily summary</b>\n")
	fmt.Fprintf(&b, "Uptime: %.1f hours\n", ev.Uptime.Hours())
	fmt.Fprintf(&b, "Trades: %d (win rate %d%%)\n", ev.Trades, ev.WinRate)
	fmt.Fprintf(&b, "Active positions: %d\n", ev.ActivePositions)
	fmt.Fprintf(&b, "Total profit: %s SOL\n", ev.TotalProfit.StringFixed(4))
	fmt.Fprintf(&b, "Mode: %s", html.EscapeString(ev.Mode))
	return b.String()
}
