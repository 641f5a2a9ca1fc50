// Package sink delivers validation events to logs, metrics, webhooks and storage.
package sink

import (
	"fmt"
	"strconv"

	"oracle-monitor/internal/domain"
)

// FormatLine renders ev as a single human readable line:
//
//	<slot> <symbol> <publisher> low-slot-hit-rate hit rate: 28.4%
//	<slot> <symbol> <publisher> stop-publish
//	<slot> <symbol> <publisher> price-deviation aggregate: 100 ± 1 publisher: 130 ± 2
func FormatLine(ev domain.ValidationEvent) string {
	prefix := fmt.Sprintf("%d %s %s %s", ev.Slot, ev.Symbol, ev.Publisher, ev.Kind)

	switch ev.Kind {
	case domain.EventLowSlotHitRate:
		return fmt.Sprintf("%s hit rate: %.1f%%", prefix, ev.HitRate*100)
	case domain.EventStartPublish, domain.EventStopPublish:
		return prefix
	default:
		return fmt.Sprintf("%s aggregate: %s ± %s publisher: %s ± %s", prefix,
			formatFloat(ev.Aggregate.Price), formatFloat(ev.Aggregate.Confidence),
			formatFloat(ev.Quote.Price), formatFloat(ev.Quote.Confidence))
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
