package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/siverbl/rsi-pi-bot/internal/model"
)

// messageLimit keeps chunks comfortably under Discord's 2000-character
// ceiling.
const messageLimit = 1900

// FormatAlertLine renders one subscription alert as a numbered Discord
// line, e.g.
//
//	1) **AUSS.OL** — [Austevoll Seafood](<https://...>) — RSI14: **79.6** | Rule: **> 70** | ⏱️ **day 4**
func FormatAlertLine(a model.Alert, index int) string {
	persistence := fmt.Sprintf("⏱️ **day %d**", a.DaysInZone)
	if a.JustCrossed || a.DaysInZone <= 1 {
		persistence = "🆕 **just crossed**"
	}

	name := a.Name
	if name == "" {
		name = a.Ticker
	}
	label := name
	if a.ChartURL != "" {
		// Angle brackets keep Discord from unfurling the link.
		label = fmt.Sprintf("[%s](<%s>)", name, a.ChartURL)
	}

	return fmt.Sprintf("%d) **%s** — %s — RSI%d: **%.1f** | Rule: **%s %s** | %s",
		index, a.Ticker, label, a.Period, a.RSIValue,
		a.Condition.Operator(), formatThreshold(a.Threshold), persistence)
}

// formatThreshold drops trailing zeros so "40" and "37.5" both read
// naturally.
func formatThreshold(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

// FormatAlertList renders a condition's alerts as one or more messages,
// splitting greedily so each stays under the Discord limit.
func FormatAlertList(alerts []model.Alert, cond model.Condition) []string {
	if len(alerts) == 0 {
		return nil
	}

	header := "📉 **RSI Oversold Alerts**\n\n"
	if cond == model.ConditionOver {
		header = "📈 **RSI Overbought Alerts**\n\n"
	}

	var messages []string
	var b strings.Builder
	b.WriteString(header)

	for i, a := range alerts {
		line := FormatAlertLine(a, i+1) + "\n"
		if b.Len()+len(line) > messageLimit {
			messages = append(messages, b.String())
			b.Reset()
			fmt.Fprintf(&b, "📊 **Continued (%s)...**\n\n", cond)
		}
		b.WriteString(line)
	}
	messages = append(messages, b.String())
	return messages
}

// FormatNoAlerts renders the quiet-cycle message for a condition.
func FormatNoAlerts(cond model.Condition) string {
	if cond == model.ConditionUnder {
		return "📉 **RSI Oversold Alerts**\n\nNo stocks currently meeting oversold criteria."
	}
	return "📈 **RSI Overbought Alerts**\n\nNo stocks currently meeting overbought criteria."
}

// CatalogHit is one catalog ticker that newly entered an auto-scan zone.
type CatalogHit struct {
	Ticker   string
	Name     string
	ChartURL string
	RSI      float64
}

// FormatCombinedReport renders an auto-scan posting: newly entered
// catalog tickers first, then the cycle's subscription alerts. Only
// called when there is something new to say.
func FormatCombinedReport(region model.Region, cond model.Condition, threshold float64, hits []CatalogHit, subAlerts []model.Alert, dataTimestamp *time.Time) []string {
	var b strings.Builder

	if cond == model.ConditionUnder {
		fmt.Fprintf(&b, "📉 **Auto-Scan: Oversold (%s)**\n", regionDisplay(region))
	} else {
		fmt.Fprintf(&b, "📈 **Auto-Scan: Overbought (%s)**\n", regionDisplay(region))
	}
	fmt.Fprintf(&b, "Threshold: RSI %s %s\n", cond.Operator(), formatThreshold(threshold))
	if dataTimestamp != nil {
		fmt.Fprintf(&b, "Data as of: %s\n", dataTimestamp.UTC().Format("2006-01-02 15:04 UTC"))
	}
	b.WriteString("\n")

	if len(hits) > 0 {
		b.WriteString("**📊 Catalog Tickers (newly entered zone):**\n")
		for i, h := range hits {
			name := h.Name
			if name == "" {
				name = h.Ticker
			}
			if h.ChartURL != "" {
				fmt.Fprintf(&b, "%d) **%s** — [%s](<%s>) — RSI14: **%.1f**\n", i+1, h.Ticker, name, h.ChartURL, h.RSI)
			} else {
				fmt.Fprintf(&b, "%d) **%s** — %s — RSI14: **%.1f**\n", i+1, h.Ticker, name, h.RSI)
			}
		}
		b.WriteString("\n")
	}

	if len(subAlerts) > 0 {
		b.WriteString("**🔔 Subscription Alerts:**\n")
		for i, a := range subAlerts {
			b.WriteString(FormatAlertLine(a, i+1))
			b.WriteString("\n")
		}
	}

	return chunkMessage(strings.TrimRight(b.String(), "\n"))
}

// ScanStatus summarizes one auto-scan run for the changelog channel.
// Posted every cycle, hits or not.
type ScanStatus struct {
	Region        model.Region
	Start, End    time.Time
	DataTimestamp *time.Time

	CatalogTotal  int
	CatalogOK     int
	CatalogFailed []string

	SubTotal  int
	SubOK     int
	SubFailed []string

	OversoldThreshold   float64
	OversoldTotal       int
	OversoldNew         int
	OversoldSubAlerts   int
	OverboughtThreshold float64
	OverboughtTotal     int
	OverboughtNew       int
	OverboughtSubAlerts int

	MessagesSent     int
	PostedOversold   bool
	PostedOverbought bool
}

// FormatScanStatus renders the changelog status message.
func FormatScanStatus(s ScanStatus) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🔄 **Auto-Scan Complete** (%s)\n\n", regionDisplay(s.Region))

	b.WriteString("**⏱️ Timing:**\n")
	fmt.Fprintf(&b, "• Start: %s\n", s.Start.Format("15:04:05"))
	fmt.Fprintf(&b, "• End: %s\n", s.End.Format("15:04:05"))
	fmt.Fprintf(&b, "• Duration: %.1fs\n", s.End.Sub(s.Start).Seconds())
	if s.DataTimestamp != nil {
		fmt.Fprintf(&b, "• Data age: %s\n", humanize.Time(*s.DataTimestamp))
	}
	b.WriteString("\n")

	b.WriteString("**📊 Catalog Scan:**\n")
	fmt.Fprintf(&b, "• Tickers: %d/%d successful\n", s.CatalogOK, s.CatalogTotal)
	writeFailedList(&b, s.CatalogFailed)
	b.WriteString("\n")

	b.WriteString("**🔔 Subscriptions:**\n")
	fmt.Fprintf(&b, "• Total: %d\n", s.SubTotal)
	fmt.Fprintf(&b, "• Successful: %d\n", s.SubOK)
	writeFailedList(&b, s.SubFailed)
	b.WriteString("\n")

	b.WriteString("**📈 Results:**\n")
	fmt.Fprintf(&b, "• Oversold (< %s): %d total, **%d new**", formatThreshold(s.OversoldThreshold), s.OversoldTotal, s.OversoldNew)
	if s.OversoldSubAlerts > 0 {
		fmt.Fprintf(&b, ", %d sub alerts", s.OversoldSubAlerts)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "• Overbought (> %s): %d total, **%d new**", formatThreshold(s.OverboughtThreshold), s.OverboughtTotal, s.OverboughtNew)
	if s.OverboughtSubAlerts > 0 {
		fmt.Fprintf(&b, ", %d sub alerts", s.OverboughtSubAlerts)
	}
	b.WriteString("\n\n")

	b.WriteString("**📬 Posted Updates:**\n")
	fmt.Fprintf(&b, "• Oversold: %s\n", postedMark(s.PostedOversold))
	fmt.Fprintf(&b, "• Overbought: %s\n", postedMark(s.PostedOverbought))
	fmt.Fprintf(&b, "• Messages sent: %d", s.MessagesSent)

	return b.String()
}

func postedMark(posted bool) string {
	if posted {
		return "✅ Posted"
	}
	return "⏭️ No new hits"
}

func writeFailedList(b *strings.Builder, failed []string) {
	if len(failed) == 0 {
		return
	}
	preview := failed
	if len(preview) > 5 {
		preview = preview[:5]
	}
	fmt.Fprintf(b, "• ❌ Failed (%d): %s", len(failed), strings.Join(preview, ", "))
	if len(failed) > 5 {
		fmt.Fprintf(b, " (+%d more)", len(failed)-5)
	}
	b.WriteString("\n")
}

func regionDisplay(r model.Region) string {
	return strings.ToUpper(strings.ReplaceAll(string(r), "_", "/"))
}

// chunkMessage splits content on line boundaries so every chunk stays
// under the Discord limit.
func chunkMessage(content string) []string {
	if len(content) <= messageLimit {
		return []string{content}
	}
	var chunks []string
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if b.Len() > 0 && b.Len()+len(line)+1 > messageLimit {
			chunks = append(chunks, strings.TrimRight(b.String(), "\n"))
			b.Reset()
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		chunks = append(chunks, strings.TrimRight(b.String(), "\n"))
	}
	return chunks
}
