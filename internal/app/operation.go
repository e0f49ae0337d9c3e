package app

import (
	"time"

	"cercasp-go/internal/cercasp"
)

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks one CLI invocation. Its ID tags every log line written
// while it runs.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string
	StartedAt  time.Time
	Err        error
}

// NewOperation starts an operation at the clock's current time.
func NewOperation(name, parameters string, clock cercasp.Clock) *Operation {
	now := clock.Now().UTC()
	return &Operation{
		ID:         now.Format("20060102T150405Z"),
		Name:       name,
		Parameters: parameters,
		Status:     StatusSuccess,
		StartedAt:  now,
	}
}

// Fail marks the operation as failed. The first error is kept.
func (op *Operation) Fail(err error) {
	if err == nil {
		return
	}
	op.Status = StatusError
	if op.Err == nil {
		op.Err = err
	}
}

// Finish logs the outcome and duration.
func (op *Operation) Finish(logger cercasp.Logger, clock cercasp.Clock) {
	args := []any{
		"operation", op.Name,
		"status", op.Status,
		"duration_ms", clock.Now().Sub(op.StartedAt).Milliseconds(),
	}
	if op.Parameters != "" {
		args = append(args, "parameters", op.Parameters)
	}
	if op.Err != nil {
		logger.Error("operation finished", append(args, "error", op.Err)...)
		return
	}
	logger.Info("operation finished", args...)
}
