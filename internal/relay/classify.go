// internal/relay/classify.go
package relay

import "strings"

// Kind classifies a reply from the peer.
type Kind int

const (
	Unclassified Kind = iota
	BalanceReport
	TradeConfirmed
	TradeFailed
)

func (k Kind) String() string {
	switch k {
	case BalanceReport:
		return "balance_report"
	case TradeConfirmed:
		return "trade_confirmed"
	case TradeFailed:
		return "trade_failed"
	default:
		return "unclassified"
	}
}

const (
	successMarker = "✅"
	failureMarker = "❌"
)

// Classify matches text against the reply patterns in priority order; the
// first match wins.
func Classify(text string) Kind {
	switch {
	case strings.Contains(text, "Balance:"):
		return BalanceReport
	case strings.Contains(text, successMarker) && strings.Contains(strings.ToLower(text), "successful"):
		return TradeConfirmed
	case strings.Contains(text, failureMarker):
		return TradeFailed
	default:
		return Unclassified
	}
}
