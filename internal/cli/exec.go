package cli

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lecoder-dev/lecoder/internal/colabapi"
	"github.com/lecoder-dev/lecoder/internal/history"
	"github.com/lecoder-dev/lecoder/internal/kernel"
	"github.com/lecoder-dev/lecoder/internal/kernelerr"
	"github.com/lecoder-dev/lecoder/internal/output"
	"github.com/lecoder-dev/lecoder/internal/sessionmgr"
)

// RunCode submits code on the session's Connection and records the outcome
// to the Execution History, returning the formatted Result.
func (a *App) RunCode(ctx context.Context, rec *sessionmgr.Record, code string, timeout time.Duration) output.Result {
	started := time.Now().UTC()

	conn, err := a.EnsureConnection(ctx, rec)
	if err != nil {
		res := output.TransportFailure(classifyConnectErr(err), "", started, time.Now().UTC())
		a.recordHistory(rec, code, res)
		return res
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := conn.Execute(execCtx, code, kernel.ExecuteOptions{Timeout: timeout})
	completed := time.Now().UTC()

	var res output.Result
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		res = output.Aborted(kernelerr.ExecutionTimeout(), "", started, completed)
	case errors.Is(err, kernel.ErrDisconnected):
		stdoutSoFar := ""
		if result != nil {
			stdoutSoFar = result.Stdout
		}
		res = output.Aborted(kernelerr.ConnectionDropped(), stdoutSoFar, started, completed)
	case err != nil:
		res = output.TransportFailure(classifyConnectErr(err), "", started, completed)
	default:
		res = output.FromExecuteResult(result, started, completed)
	}

	a.recordHistory(rec, code, res)
	return res
}

func (a *App) recordHistory(rec *sessionmgr.Record, code string, res output.Result) {
	entry := history.Entry{
		Command:            code,
		Mode:               "kernel",
		Status:             res.Status,
		Stdout:             res.Stdout,
		Stderr:             res.Stderr,
		ExecutionCount:     res.ExecutionCount,
		ErrorCode:          res.ErrorCode,
		RuntimeLabel:       rec.Label,
		RuntimeAccelerator: rec.Accelerator,
		Timestamp:          res.Timing.Completed,
		DurationMs:         res.Timing.DurationMs,
	}
	if res.Error != nil {
		entry.Category = res.Error.Category
	}
	if err := a.History.Append(entry); err != nil {
		a.Log.Error("history", "append entry failed", err)
	}
}

// classifyConnectErr maps an error surfaced from EnsureConnection/Execute to
// a Classification, preferring a categorized transport failure over the
// generic unknown bucket whenever the error chain carries a colabapi.APIError
// HTTP status or the error text carries a recognizable transport signature.
func classifyConnectErr(err error) kernelerr.Classification {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "reconnect attempt"), strings.Contains(msg, "connection unstable"):
		return kernelerr.ReconnectExhausted()
	case strings.Contains(msg, "status:idle"), strings.Contains(msg, "readiness"):
		return kernelerr.ReadinessTimeout()
	default:
		status := 0
		var apiErr *colabapi.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return kernelerr.TransportFailure(status, msg)
	}
}

// Interrupt sends an interrupt to rec's live Connection, a no-op returning
// nil if none is pooled.
func (a *App) Interrupt(ctx context.Context, rec *sessionmgr.Record) error {
	conn := a.Pool.Get(rec.ID)
	if conn == nil {
		return nil
	}
	return conn.Interrupt(ctx)
}
