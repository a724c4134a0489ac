// Package obslog provides leveled, structured logging for the engine,
// tagging every line with component and market id so invariant
// violations are never quiet. Grounded on the teacher's log.Printf call
// sites in offchain/matcher/matcher.go, generalized to log/slog, and on
// the leveled-helper shape of stadam23-Eve-flipper/internal/logger.
package obslog

import (
	"log/slog"
	"os"
)

var base = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Logger is a component-scoped logging handle.
type Logger struct {
	component string
}

// For returns a Logger tagged with component.
func For(component string) Logger { return Logger{component: component} }

func (l Logger) with(marketID string, args ...any) []any {
	out := []any{"component", l.component}
	if marketID != "" {
		out = append(out, "market_id", marketID)
	}
	return append(out, args...)
}

func (l Logger) Info(marketID, msg string, args ...any) {
	base.Info(msg, l.with(marketID, args...)...)
}

func (l Logger) Warn(marketID, msg string, args ...any) {
	base.Warn(msg, l.with(marketID, args...)...)
}

func (l Logger) Error(marketID, msg string, args ...any) {
	base.Error(msg, l.with(marketID, args...)...)
}

// Invariant logs an invariant violation at error level with a fixed,
// greppable event tag — this must never be silent.
func (l Logger) Invariant(marketID, msg string, args ...any) {
	base.Error(msg, l.with(marketID, append([]any{"event", "invariant_violation"}, args...)...)...)
}
