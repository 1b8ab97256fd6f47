package model

// CheckStatus is the outcome of a doctor check.
type CheckStatus string

const (
	CheckStatusOK      CheckStatus = "ok"
	CheckStatusWarning CheckStatus = "warning"
	// CheckStatusError means no fixture can be acquired until it's fixed.
	CheckStatusError CheckStatus = "error"
)

// IDs of the checks the sandbox engines run.
const (
	CheckEngineReachable = "engine_reachable"
	CheckEngineImages    = "engine_images"
)

// CheckResult is the result of checking one requirement of a sandbox engine.
type CheckResult struct {
	// ID is one of the Check* IDs.
	ID      string
	Message string
	Status  CheckStatus
}

// CheckSummary is the number of check results on each status.
type CheckSummary struct {
	OK       int
	Warnings int
	Errors   int
}

// Passed is true when nothing failed or warned.
func (s CheckSummary) Passed() bool { return s.Errors == 0 && s.Warnings == 0 }

// Summarize groups check results by status.
func Summarize(results []CheckResult) CheckSummary {
	var s CheckSummary
	for _, r := range results {
		switch r.Status {
		case CheckStatusOK:
			s.OK++
		case CheckStatusWarning:
			s.Warnings++
		case CheckStatusError:
			s.Errors++
		}
	}
	return s
}

// HasErrors reports if the engine failed any check.
func HasErrors(results []CheckResult) bool {
	return Summarize(results).Errors > 0
}
