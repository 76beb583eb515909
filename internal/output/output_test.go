package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lecoder-dev/lecoder/internal/kernel"
	"github.com/lecoder-dev/lecoder/internal/kernelerr"
)

func TestFromExecuteResultSuccessOmitsError(t *testing.T) {
	r := &kernel.ExecuteResult{Status: "ok", Stdout: "hi\n", ExecutionCount: 1}
	started := time.Now()
	completed := started.Add(50 * time.Millisecond)

	res := FromExecuteResult(r, started, completed)
	if res.Status != "ok" || res.ErrorCode != 0 {
		t.Fatalf("unexpected success result: %+v", res)
	}
	if res.Error != nil {
		t.Fatalf("success result should omit error")
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var roundTrip Result
	if err := json.Unmarshal(data, &roundTrip); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if roundTrip.Stdout != "hi\n" {
		t.Fatalf("round trip mismatch: %+v", roundTrip)
	}
}

func TestFromExecuteResultErrorClassifiesCode(t *testing.T) {
	r := &kernel.ExecuteResult{
		Status:    "error",
		Exception: &kernelerr.Exception{EName: "ZeroDivisionError", EValue: "division by zero"},
	}
	res := FromExecuteResult(r, time.Now(), time.Now())
	if res.Status != "error" || res.ErrorCode != kernelerr.CodeRuntime {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if res.Error == nil || res.Error.Category != "runtime" {
		t.Fatalf("expected runtime category: %+v", res.Error)
	}
}

func TestFromExecuteResultKeyboardInterruptAborts(t *testing.T) {
	r := &kernel.ExecuteResult{
		Status:    "error",
		Stdout:    "partial\n",
		Exception: &kernelerr.Exception{EName: "KeyboardInterrupt", EValue: ""},
	}
	res := FromExecuteResult(r, time.Now(), time.Now())
	if res.Status != "abort" {
		t.Fatalf("expected abort status for a KeyboardInterrupt exception, got %q", res.Status)
	}
	if res.ErrorCode != kernelerr.CodeTimeout {
		t.Fatalf("expected timeout error code, got %d", res.ErrorCode)
	}
	if res.Stdout != "partial\n" {
		t.Fatalf("expected output captured before the interrupt to survive, got %q", res.Stdout)
	}
}

func TestStripANSIRemovesEscapeCodes(t *testing.T) {
	in := "\x1b[31mred text\x1b[0m plain"
	got := StripANSI(in)
	if got != "red text plain" {
		t.Fatalf("got %q", got)
	}
}

func TestStdoutAlwaysPresentEvenEmpty(t *testing.T) {
	r := &kernel.ExecuteResult{Status: "ok"}
	res := FromExecuteResult(r, time.Now(), time.Now())
	data, _ := json.Marshal(res)
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["stdout"]; !ok {
		t.Fatalf("stdout field must always be present")
	}
}
