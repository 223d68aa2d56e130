package ledger

import "github.com/taku247/long-trader-sub006/config"

// DeriveRunStatus derives the run-level status from task outcomes. Run status
// is never stored redundantly while tasks are unresolved; once every task is
// terminal the result of this function is cached on the run row.
//
// Aggregation when some but not all tasks fail is a configurable policy:
//
//	lenient: SUCCESS if every resolved task completed; PARTIAL when
//	         completions and failures are mixed; FAILED if none completed.
//	strict:  SUCCESS if every task completed; any failure makes the whole
//	         run FAILED.
func DeriveRunStatus(p Progress, policy string) RunStatus {
	if !p.Resolved() {
		if p.Running > 0 || p.Completed > 0 || p.Failed > 0 {
			return RunStatusRunning
		}
		return RunStatusPending
	}

	switch {
	case p.Completed == 0:
		return RunStatusFailed
	case p.Failed == 0:
		return RunStatusSuccess
	case policy == config.AggregationStrict:
		return RunStatusFailed
	default: // lenient
		return RunStatusPartial
	}
}
