package artifact

import (
	"time"

	"github.com/taku247/long-trader-sub006/errors"
)

// ValidateContent flags degenerate trade lists so callers can quarantine and
// regenerate rather than silently serve bad data.
//
// The signature case is every trade sharing one identical entry/exit/stop/
// target price - the observable symptom of a broken signal generator emitting
// a single hardcoded level. Structural checks (exit before entry,
// non-positive leverage) catch encoder and evaluator bugs.
func ValidateContent(trades []Trade) error {
	if len(trades) == 0 {
		return nil // a no-signal artifact is valid
	}

	for i, tr := range trades {
		if tr.ExitTime.Before(tr.EntryTime) {
			return errors.NewIntegrityError("trade %d exits before it enters (%s < %s)",
				i, tr.ExitTime.Format(time.RFC3339), tr.EntryTime.Format(time.RFC3339))
		}
		if tr.Leverage <= 0 {
			return errors.NewIntegrityError("trade %d has non-positive leverage %.2f", i, tr.Leverage)
		}
		if tr.EntryPrice <= 0 || tr.ExitPrice <= 0 {
			return errors.NewIntegrityError("trade %d has non-positive price", i)
		}
	}

	if len(trades) >= 2 && allPricesIdentical(trades) {
		return errors.NewIntegrityError(
			"all %d trades share identical entry/exit/stop/target prices (%.8f); generator is stuck on a hardcoded level",
			len(trades), trades[0].EntryPrice)
	}

	return nil
}

// ValidateWindow enforces the temporal-correctness invariant on a finished
// artifact: no timestamp inside it may exceed the as-of time supplied to the
// task that produced it. A violation means the evaluator consumed unclamped
// data and manufactured trades from the future.
func ValidateWindow(trades []Trade, asOf time.Time) error {
	for i, tr := range trades {
		if tr.EntryTime.After(asOf) {
			return errors.NewIntegrityError("trade %d enters at %s, after as-of %s",
				i, tr.EntryTime.Format(time.RFC3339), asOf.Format(time.RFC3339))
		}
		if tr.ExitTime.After(asOf) {
			return errors.NewIntegrityError("trade %d exits at %s, after as-of %s",
				i, tr.ExitTime.Format(time.RFC3339), asOf.Format(time.RFC3339))
		}
	}
	return nil
}

func allPricesIdentical(trades []Trade) bool {
	first := trades[0]
	for _, tr := range trades[1:] {
		if tr.EntryPrice != first.EntryPrice ||
			tr.ExitPrice != first.ExitPrice ||
			tr.StopPrice != first.StopPrice ||
			tr.TargetPrice != first.TargetPrice {
			return false
		}
	}
	return true
}
