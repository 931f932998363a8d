package models

// Operation is a future for asynchronous work launched during a pass whose
// result mutates the aggregate. The launcher completes it exactly once; the
// aggregate consumes it at the pass's join point.
type Operation struct {
	name string
	done chan opResult
}

type opResult struct {
	apply func(*FusedAccount) error
	err   error
}

// NewOperation creates a named, uncompleted operation.
func NewOperation(name string) *Operation {
	return &Operation{name: name, done: make(chan opResult, 1)}
}

// Name returns the operation's label used in audit entries.
func (o *Operation) Name() string {
	return o.name
}

// Complete resolves the operation with a mutation to apply at the join
// point. A nil apply means the operation carried no state change.
func (o *Operation) Complete(apply func(*FusedAccount) error) {
	o.done <- opResult{apply: apply}
}

// Fail resolves the operation with an error; the failure is recorded in the
// audit history and no mutation is applied.
func (o *Operation) Fail(err error) {
	o.done <- opResult{err: err}
}
