// Package kernelerr maps kernel exceptions and transport failures to the
// small taxonomy of numeric categories the CLI's machine-readable output
// relies on (spec §4.8). It is a pure mapping: no I/O, no state.
package kernelerr

import (
	"regexp"
	"strings"
)

// Category is one of the documented error categories.
type Category string

const (
	CategorySuccess Category = "success"
	CategorySyntax  Category = "syntax"
	CategoryRuntime Category = "runtime"
	CategoryTimeout Category = "timeout"
	CategoryMemory  Category = "memory"
	CategoryImport  Category = "import"
	CategoryIO      Category = "io"
	CategoryUnknown Category = "unknown"
)

// Code is the stable numeric code for a Category. The mapping is 1:1 and
// the numeric values must never change once released.
const (
	CodeSuccess = 0
	CodeSyntax  = 1001
	CodeRuntime = 1002
	CodeTimeout = 1003
	CodeMemory  = 1004
	CodeImport  = 1005
	CodeIO      = 1006
	CodeUnknown = 1999
)

var categoryCodes = map[Category]int{
	CategorySuccess: CodeSuccess,
	CategorySyntax:  CodeSyntax,
	CategoryRuntime: CodeRuntime,
	CategoryTimeout: CodeTimeout,
	CategoryMemory:  CodeMemory,
	CategoryImport:  CodeImport,
	CategoryIO:      CodeIO,
	CategoryUnknown: CodeUnknown,
}

// CodeFor returns the stable numeric code for a category.
func CodeFor(cat Category) int {
	return categoryCodes[cat]
}

// Classification is the structured outcome of classifying a kernel
// exception or transport failure: a category, its stable code, a
// human-suggested remediation, and a one-line description.
type Classification struct {
	Category    Category
	Code        int
	Suggestion  string
	Description string
}

// Exception is the (ename, evalue, traceback) record a kernel's error or
// execute_reply message carries.
type Exception struct {
	EName     string
	EValue    string
	Traceback []string
}

var syntaxExceptions = map[string]bool{
	"SyntaxError":      true,
	"IndentationError": true,
	"TabError":         true,
}

var importExceptions = map[string]bool{
	"ImportError":        true,
	"ModuleNotFoundError": true,
}

var memoryExceptions = map[string]bool{
	"MemoryError": true,
}

var ioExceptions = map[string]bool{
	"FileNotFoundError": true,
	"PermissionError":   true,
	"IOError":           true,
	"OSError":            true,
}

var timeoutExceptions = map[string]bool{
	"KeyboardInterrupt": true,
}

var cudaOOMPattern = regexp.MustCompile(`(?i)CUDA out of memory|CUDA error: out of memory`)

var moduleNamePattern = regexp.MustCompile(`No module named '([^']+)'`)

// ClassifyException maps a kernel exception to a Classification.
func ClassifyException(exc Exception) Classification {
	switch {
	case syntaxExceptions[exc.EName]:
		return Classification{
			Category:    CategorySyntax,
			Code:        CodeSyntax,
			Suggestion:  "check the code for syntax errors near the reported line",
			Description: "the submitted code could not be parsed",
		}
	case importExceptions[exc.EName]:
		return Classification{
			Category:    CategoryImport,
			Code:        CodeImport,
			Suggestion:  importSuggestion(exc.EValue),
			Description: "a required module is not installed in the runtime",
		}
	case memoryExceptions[exc.EName] || cudaOOMPattern.MatchString(exc.EValue):
		return Classification{
			Category:    CategoryMemory,
			Code:        CodeMemory,
			Suggestion:  "reduce batch size or free memory, or request a runtime with more memory",
			Description: "the runtime ran out of memory during execution",
		}
	case timeoutExceptions[exc.EName]:
		return Classification{
			Category:    CategoryTimeout,
			Code:        CodeTimeout,
			Suggestion:  "the execution was interrupted; retry if this was unintended",
			Description: "execution was interrupted before completion",
		}
	case ioExceptions[exc.EName]:
		return Classification{
			Category:    CategoryIO,
			Code:        CodeIO,
			Suggestion:  "check the path or permissions and retry",
			Description: "a filesystem operation failed in the runtime",
		}
	case exc.EName == "":
		return Classification{
			Category:    CategoryUnknown,
			Code:        CodeUnknown,
			Suggestion:  "retry, or inspect the traceback for more detail",
			Description: "an unclassified error occurred",
		}
	default:
		return Classification{
			Category:    CategoryRuntime,
			Code:        CodeRuntime,
			Suggestion:  "inspect the traceback for the failing line",
			Description: "the code raised a runtime exception",
		}
	}
}

func importSuggestion(evalue string) string {
	if m := moduleNamePattern.FindStringSubmatch(evalue); len(m) == 2 {
		return "pip install " + m[1]
	}
	return "install the missing module with pip"
}

// ReadinessTimeout classifies a kernel readiness timeout (spec §4.4/§7).
func ReadinessTimeout() Classification {
	return Classification{
		Category:    CategoryTimeout,
		Code:        CodeTimeout,
		Suggestion:  "retry with a fresh runtime (--new-runtime)",
		Description: "the kernel did not reach status:idle before the readiness timeout elapsed",
	}
}

// ExecutionTimeout classifies a caller-supplied execution timeout expiring.
func ExecutionTimeout() Classification {
	return Classification{
		Category:    CategoryTimeout,
		Code:        CodeTimeout,
		Suggestion:  "increase the execution timeout or simplify the code",
		Description: "the caller-supplied execution timeout elapsed before completion",
	}
}

// Interrupted classifies an execution aborted by interrupt() (spec §7).
func Interrupted() Classification {
	return Classification{
		Category:    CategoryTimeout,
		Code:        CodeTimeout,
		Suggestion:  "resubmit the command if it should still run",
		Description: "execution was aborted by an interrupt request",
	}
}

// ConnectionDropped classifies an in-flight execute cut short by the kernel
// WebSocket dropping mid-execution, distinct from ReconnectExhausted: the
// Connection is left to reconnect on its next use (spec scenario S5), and
// only this one execute resolves with ABORT.
func ConnectionDropped() Classification {
	return Classification{
		Category:    CategoryTimeout,
		Code:        CodeTimeout,
		Suggestion:  "resubmit the command; the connection is re-established on the next run",
		Description: "the kernel connection dropped before execution completed",
	}
}

// ReconnectExhausted classifies a Connection going FAILED after the
// reconnect attempt cap is exceeded (spec §4.4/§7).
func ReconnectExhausted() Classification {
	return Classification{
		Category:    CategoryIO,
		Code:        CodeIO,
		Suggestion:  "start a new runtime with --new-runtime; the connection is unstable",
		Description: "connection unstable: reconnect attempts exceeded the configured cap",
	}
}

// TransportFailure classifies a non-kernel transport error: HTTP statuses
// and the well-known net-level failure strings this client distinguishes.
func TransportFailure(statusCode int, errText string) Classification {
	switch {
	case statusCode == 502 || statusCode == 503 || statusCode == 504:
		return Classification{
			Category:    CategoryIO,
			Code:        CodeIO,
			Suggestion:  "retry, or use --new-runtime if the problem persists",
			Description: "the proxy host returned a transient unavailability status",
		}
	case statusCode == 404:
		return Classification{
			Category:    CategoryIO,
			Code:        CodeIO,
			Suggestion:  "try --new-runtime",
			Description: "kernel endpoint not found — likely wrong kernel id, wrong proxy url, or missing/invalid auth header",
		}
	case statusCode == 401 || statusCode == 403:
		return Classification{
			Category:    CategoryIO,
			Code:        CodeIO,
			Suggestion:  "re-authenticate",
			Description: "the proxy or API host rejected the supplied credentials",
		}
	case containsAny(errText, "connection refused", "no such host", "dial tcp", "tls: "):
		return Classification{
			Category:    CategoryIO,
			Code:        CodeIO,
			Suggestion:  "check network connectivity and retry",
			Description: "a transport-level connection failure occurred",
		}
	default:
		return Classification{
			Category:    CategoryUnknown,
			Code:        CodeUnknown,
			Suggestion:  "retry, or inspect the error for more detail",
			Description: "an unclassified transport failure occurred",
		}
	}
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// Success is the classification for a successful execute_reply.
func Success() Classification {
	return Classification{Category: CategorySuccess, Code: CodeSuccess}
}
