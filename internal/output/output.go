// Package output builds the CLI's documented machine-readable JSON shape
// and strips terminal escape codes before emission.
package output

import (
	"regexp"
	"time"

	"github.com/lecoder-dev/lecoder/internal/kernel"
	"github.com/lecoder-dev/lecoder/internal/kernelerr"
)

// Timing records when an execution started and completed.
type Timing struct {
	Started     time.Time `json:"started"`
	Completed   time.Time `json:"completed"`
	DurationMs  int64     `json:"duration_ms"`
}

// ErrorDetail is the `error` object in a failure/abort result.
type ErrorDetail struct {
	Name        string   `json:"name"`
	Message     string   `json:"message"`
	Category    string   `json:"category"`
	Description string   `json:"description,omitempty"`
	Traceback   []string `json:"traceback,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// Result is the documented run/execute JSON schema: success, failure, and
// abort all share this shape, differing only in which fields are present.
type Result struct {
	Status         string       `json:"status"`
	ErrorCode      int          `json:"errorCode"`
	Stdout         string       `json:"stdout"`
	Stderr         string       `json:"stderr,omitempty"`
	ExecutionCount int          `json:"execution_count,omitempty"`
	Error          *ErrorDetail `json:"error,omitempty"`
	Timing         Timing       `json:"timing"`
}

var ansiPattern = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// FromExecuteResult builds the documented Result from a kernel
// ExecuteResult and timing bounds, classifying r.Exception itself when one
// is present. ANSI is stripped from stdout, stderr, the error message,
// and every traceback line; stdout is always present, possibly empty.
func FromExecuteResult(r *kernel.ExecuteResult, started, completed time.Time) Result {
	durationMs := completed.Sub(started).Milliseconds()
	res := Result{
		Stdout: StripANSI(r.Stdout),
		Timing: Timing{Started: started, Completed: completed, DurationMs: durationMs},
	}
	if r.Stderr != "" {
		res.Stderr = StripANSI(r.Stderr)
	}
	res.ExecutionCount = r.ExecutionCount

	if r.Exception == nil {
		res.Status = "ok"
		res.ErrorCode = kernelerr.CodeSuccess
		return res
	}

	if r.Exception.EName == "KeyboardInterrupt" {
		return Aborted(kernelerr.Interrupted(), r.Stdout, started, completed)
	}

	cls := kernelerr.ClassifyException(*r.Exception)
	res.Status = "error"
	res.ErrorCode = cls.Code
	res.Error = &ErrorDetail{
		Name:        r.Exception.EName,
		Message:     StripANSI(r.Exception.EValue),
		Category:    string(cls.Category),
		Description: cls.Description,
		Traceback:   stripTraceback(r.Exception.Traceback),
		Suggestion:  cls.Suggestion,
	}
	return res
}

// Aborted builds a Result for an execution cut short by interrupt() or a
// caller-supplied timeout.
func Aborted(cls kernelerr.Classification, stdoutSoFar string, started, completed time.Time) Result {
	return Result{
		Status:    "abort",
		ErrorCode: cls.Code,
		Stdout:    StripANSI(stdoutSoFar),
		Error: &ErrorDetail{
			Name:        "Aborted",
			Message:     cls.Description,
			Category:    string(cls.Category),
			Description: cls.Description,
			Suggestion:  cls.Suggestion,
		},
		Timing: Timing{Started: started, Completed: completed, DurationMs: completed.Sub(started).Milliseconds()},
	}
}

// TransportFailure builds a Result for a failure the kernel never had a
// chance to classify (readiness timeout, reconnect exhaustion, transport
// errors) using a pre-computed Classification.
func TransportFailure(cls kernelerr.Classification, stdoutSoFar string, started, completed time.Time) Result {
	return Result{
		Status:    "error",
		ErrorCode: cls.Code,
		Stdout:    StripANSI(stdoutSoFar),
		Error: &ErrorDetail{
			Name:        "TransportError",
			Message:     cls.Description,
			Category:    string(cls.Category),
			Description: cls.Description,
			Suggestion:  cls.Suggestion,
		},
		Timing: Timing{Started: started, Completed: completed, DurationMs: completed.Sub(started).Milliseconds()},
	}
}

// StatusReport is the `status --json` schema: auth, detected tier, and the
// session summary, mirroring the domain model in sessionmgr.Stats.
type StatusReport struct {
	Authenticated bool   `json:"authenticated"`
	AccountLabel  string `json:"accountLabel,omitempty"`
	Tier          string `json:"tier"`
	Total         int    `json:"total"`
	Active        int    `json:"active"`
	Connected     int    `json:"connected"`
	Stale         int    `json:"stale"`
	Max           int    `json:"max"`
}

func stripTraceback(lines []string) []string {
	if lines == nil {
		return nil
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = StripANSI(l)
	}
	return out
}
