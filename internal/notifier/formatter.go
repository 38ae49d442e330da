package notifier

import (
	"fmt"
	"html"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/epoch"
	"EpochKeeper/internal/model"
	"EpochKeeper/internal/recorder"
)

var actionLabels = map[model.Action]string{
	model.ActionExecuted:          "✅ executed",
	model.ActionSubmitted:         "📝 solution submitted",
	model.ActionSubmittedFallback: "⚠️ drain-down submitted",
	model.ActionHalted:            "🛑 halted",
	model.ActionSkipDust:          "💤 below dust",
	model.ActionWait:              "⏳ waiting",
}

func actionLabel(a model.Action) string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

func writeOrders(b *strings.Builder, title string, o model.OrderSnapshot) {
	b.WriteString(fmt.Sprintf("<b>%s:</b>\n", title))
	for _, t := range model.OrderTypes {
		b.WriteString(fmt.Sprintf("  %s: %s\n", t, calculator.FormatWad(o.Get(t))))
	}
}

func wadString(x *big.Int) string {
	return decimal.NewFromBigInt(x, -calculator.WadDecimals).String()
}

func rayPercent(x *big.Int) string {
	return decimal.NewFromBigInt(x, -calculator.RayDecimals).Shift(2).StringFixed(2) + "%"
}

// FormatSettlement formats an attempt that wrote to the ledger.
func FormatSettlement(pool model.Pool, s model.Settlement) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🏦 <b>%s</b> | epoch %d\n\n", html.EscapeString(pool.Label()), s.EpochID))
	b.WriteString(fmt.Sprintf("Action: %s\n", actionLabel(s.Action)))
	if s.Result.Fallback != model.FallbackNone {
		b.WriteString(fmt.Sprintf("Fallback: %s\n", s.Result.Fallback))
	}
	if s.Tx.TxHash != "" {
		b.WriteString(fmt.Sprintf("Tx: <code>%s</code>\n", html.EscapeString(s.Tx.TxHash)))
	}
	b.WriteString("\n")
	writeOrders(&b, "Orders", s.Orders)
	writeOrders(&b, "Executed", s.Result.Executed)
	if s.Note != "" {
		b.WriteString(fmt.Sprintf("\n%s\n", html.EscapeString(s.Note)))
	}
	return b.String()
}

// FormatHalt formats the alert sent when a pool stops settling.
func FormatHalt(pool model.Pool, h epoch.Halt) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🛑 <b>%s halted</b> | epoch %d\n\n", html.EscapeString(pool.Label()), h.EpochID))
	b.WriteString(fmt.Sprintf("Reason: %s\n", html.EscapeString(h.Reason)))
	b.WriteString(fmt.Sprintf("Since: %s\n\n", h.Since.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("No further submissions until /resume %s", html.EscapeString(pool.ID)))
	return b.String()
}

// FormatFailure formats a transient failure of one pool's tick.
func FormatFailure(pool model.Pool, err error) string {
	return fmt.Sprintf("❗ <b>%s</b> settlement failed\n\n%s\n\nWill retry on the next tick.",
		html.EscapeString(pool.Label()), html.EscapeString(err.Error()))
}

// FormatPreview formats what closing the current epoch would do.
func FormatPreview(p epoch.Preview) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔍 <b>%s preview</b> | epoch %d (%s)\n\n",
		html.EscapeString(p.Pool.Label()), p.Epoch.ID, p.Epoch.Status))
	if p.Halt != nil {
		b.WriteString(fmt.Sprintf("🛑 halted since epoch %d: %s\n\n", p.Halt.EpochID, html.EscapeString(p.Halt.Reason)))
	}

	b.WriteString(fmt.Sprintf("NAV: %s | Reserve: %s / %s\n",
		calculator.FormatWad(p.State.NetAssetValue), calculator.FormatWad(p.State.Reserve), calculator.FormatWad(p.State.MaxReserve)))
	ratio := calculator.JuniorRatio(p.State.NetAssetValue, p.State.Reserve, p.State.SeniorAssetValue)
	b.WriteString(fmt.Sprintf("Junior ratio: %s (bounds %s to %s)\n\n",
		calculator.FormatRayPercent(ratio),
		calculator.FormatRayPercent(p.State.MinJuniorRatio), calculator.FormatRayPercent(p.State.MaxJuniorRatio)))

	writeOrders(&b, "Orders", p.Orders)
	writeOrders(&b, "Would execute", p.Result.Executed)

	switch {
	case p.Result.IsFeasible:
		b.WriteString("\nResult: feasible\n")
	default:
		b.WriteString(fmt.Sprintf("\nResult: infeasible, fallback %s\n", p.Result.Fallback))
	}
	if p.Projection.Reserve != nil {
		b.WriteString(fmt.Sprintf("After: reserve %s, junior ratio %s\n",
			wadString(p.Projection.Reserve), rayPercent(p.Projection.JuniorRatio)))
	}
	return b.String()
}

// FormatStatus formats the keeper overview for the /status command.
func FormatStatus(pools []model.Pool, halts []epoch.Halt, lastTick time.Time) string {
	var b strings.Builder
	b.WriteString("📦 <b>EpochKeeper status</b>\n\n")
	enabled := 0
	for _, p := range pools {
		if !p.Disabled {
			enabled++
		}
	}
	b.WriteString(fmt.Sprintf("Pools: %d (%d enabled)\n", len(pools), enabled))
	if lastTick.IsZero() {
		b.WriteString("Last tick: never\n")
	} else {
		b.WriteString(fmt.Sprintf("Last tick: %s\n", lastTick.Format("2006-01-02 15:04:05")))
	}
	if len(halts) == 0 {
		b.WriteString("Halted: none ✅\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("\n🛑 <b>Halted (%d):</b>\n", len(halts)))
	for _, h := range halts {
		b.WriteString(fmt.Sprintf("  %s @ epoch %d: %s\n", html.EscapeString(h.PoolID), h.EpochID, html.EscapeString(h.Reason)))
	}
	return b.String()
}

// FormatPools lists the registry.
func FormatPools(pools []model.Pool) string {
	if len(pools) == 0 {
		return "No pools configured."
	}
	var b strings.Builder
	b.WriteString("🏦 <b>Pools</b>\n\n")
	for _, p := range pools {
		state := "on"
		if p.Disabled {
			state = "off"
		}
		b.WriteString(fmt.Sprintf("  %s (%s) [%s] dust %s\n",
			html.EscapeString(p.ID), html.EscapeString(p.Label()), state, calculator.FormatWad(p.DustThreshold)))
	}
	return b.String()
}

// FormatHistory lists recent recorded attempts for a pool.
func FormatHistory(poolID string, attempts []recorder.Attempt) string {
	if len(attempts) == 0 {
		return fmt.Sprintf("No recorded attempts for %s.", html.EscapeString(poolID))
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📜 <b>%s history</b>\n\n", html.EscapeString(poolID)))
	for _, a := range attempts {
		line := fmt.Sprintf("%s epoch %d %s", a.Timestamp.Format("01-02 15:04"), a.EpochID, actionLabel(a.Action))
		if a.Error != "" {
			line += ": " + html.EscapeString(a.Error)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
