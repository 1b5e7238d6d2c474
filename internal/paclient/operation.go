package paclient

// Handle to an asynchronous server query.
//
// An Operation starts out running and moves exactly once to done or cancelled.
// Every transition signals the mainloop. State and Cancel must be called with the mainloop lock held.
type Operation struct {
	ml    *Mainloop
	state OperationState

	onCancel func()
}

func newOperation(ml *Mainloop) *Operation {
	return &Operation{ml: ml, state: OperationRunning}
}

func (o *Operation) State() OperationState {
	return o.state
}

// Cancel a running operation. Its completion callback will not be called.
func (o *Operation) Cancel() {
	if o.state != OperationRunning {
		return
	}
	o.state = OperationCancelled
	if o.onCancel != nil {
		o.onCancel()
	}
	o.ml.Signal()
}

// Lock held.
func (o *Operation) finish() {
	if o.state != OperationRunning {
		return
	}
	o.state = OperationDone
	o.ml.Signal()
}

// Cancel from the implementation side, e.g. when the server reports an error.
// Lock held.
func (o *Operation) fail() {
	if o.state != OperationRunning {
		return
	}
	o.state = OperationCancelled
	o.ml.Signal()
}
