package compiler

import "fmt"

// FatalError is the panic payload Fatalf raises; CompileFunction recovers
// exactly this type at its single boundary and turns it back into a
// normal error return (spec.md §7 "fatal error taxonomy"). Grounded on
// the teacher's errors.go compilerError: "prints an error message and
// panics (to be recovered by CompileC67)" — generalized from a
// print-then-panic helper into a typed panic so the recoverer doesn't
// need string sniffing.
type FatalError struct {
	msg string
}

func (e *FatalError) Error() string { return e.msg }

// Fatalf aborts the current function's compilation. Used for conditions
// the compiler base treats as programmer/adaptor bugs rather than
// recoverable situations: an unassigned value referenced twice, a bank
// mismatch, a register file invariant violated.
func Fatalf(format string, args ...interface{}) {
	panic(&FatalError{msg: fmt.Sprintf(format, args...)})
}

// recoverFatal turns a FatalError panic into an error return, and
// re-panics anything else (a real bug, not a compile-time rejection).
func recoverFatal(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if fe, ok := r.(*FatalError); ok {
		*errp = fe
		return
	}
	panic(r)
}
