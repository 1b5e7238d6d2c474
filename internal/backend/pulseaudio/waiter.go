package pulseaudio

import (
	"fmt"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/uac/internal/paclient"
	"github.com/Honorable-Knights-of-the-Roundtable/uac/pkg/uac"
)

// Deadline for one blocking wait. Zero means no bound.
func (d *Device) deadline() time.Time {
	timeout, ok := d.cfg.WaitTimeout()
	if !ok {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// Wait for a signal, returning uac.ErrTimedOut once deadline has passed. Lock held.
func (d *Device) waitLocked(deadline time.Time) error {
	if !d.ml.WaitUntil(deadline) {
		return uac.ErrTimedOut
	}
	return nil
}

// Wrap sentinel with the connection's last error, if it has one. Lock held.
func (d *Device) withErrno(sentinel error) error {
	if d.pctx == nil {
		return sentinel
	}
	if errno := d.pctx.Errno(); errno != nil {
		return fmt.Errorf("%w: %w", sentinel, errno)
	}
	return sentinel
}

// Block until the connection is ready.
// Fails fast once it has failed or terminated. Lock held.
func (d *Device) waitContextReadyLocked(deadline time.Time) error {
	for {
		if d.pctx == nil {
			return uac.ErrClosed
		}

		switch state := d.pctx.State(); state {
		case paclient.ContextReady:
			return nil
		case paclient.ContextUnconnected, paclient.ContextFailed, paclient.ContextTerminated:
			return d.withErrno(fmt.Errorf("%w: connection %s", uac.ErrConnection, state))
		}

		if err := d.waitLocked(deadline); err != nil {
			return err
		}
	}
}

// Submit an asynchronous query and block until it is done or cancelled.
//
// Completion callbacks run on the worker before this returns.
// An operation still running at the deadline is cancelled.
func (d *Device) runOperation(stage string, submit func(c paclient.Context) *paclient.Operation) error {
	deadline := d.deadline()

	d.ml.Lock()
	defer d.ml.Unlock()

	if err := d.waitContextReadyLocked(deadline); err != nil {
		return uac.NewStageError(stage, err)
	}

	op := submit(d.pctx)
	if op == nil {
		err := d.withErrno(fmt.Errorf("%w: query rejected", uac.ErrConnection))
		d.logger.Error("failed to submit query", "stage", stage, "err", err)
		return uac.NewStageError(stage, err)
	}

	for op.State() == paclient.OperationRunning {
		if err := d.waitLocked(deadline); err != nil {
			op.Cancel()
			d.logger.Error("query timed out", "stage", stage)
			return uac.NewStageError(stage, err)
		}
	}

	if op.State() == paclient.OperationCancelled {
		err := d.withErrno(uac.ErrOperationCancelled)
		d.logger.Error("query cancelled", "stage", stage, "err", err)
		return uac.NewStageError(stage, err)
	}
	return nil
}
