package compiler

import (
	"fmt"
	"os"
)

// Logger is the engine's diagnostic sink. Grounded on the teacher's
// package-level VerboseMode boolean plus ad-hoc fmt.Fprintf(os.Stderr, ...)
// calls scattered through main.go: the shape is kept (plain formatted
// text to stderr, gated by a verbosity switch) but given a proper
// interface so an embedder can redirect or silence it instead of flipping
// a global.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// stderrLogger writes every Debugf/Errorf call straight to os.Stderr,
// prefixed to tell the two apart at a glance.
type stderrLogger struct{}

func (stderrLogger) Debugf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "tpde: debug: "+format+"\n", args...)
}

func (stderrLogger) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "tpde: error: "+format+"\n", args...)
}

// nopLogger discards everything; the zero-value Compiler's default, so
// CompileFunction never needs a nil check before logging.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Errorf(string, ...interface{}) {}

// SetLogger installs the diagnostic sink used for the rest of this
// Compiler's lifetime. Call before CompileFunction; the default is a
// silent nopLogger; cmd/tpdec installs a stderrLogger when run with
// -v/TPDE_VERBOSE.
func (c *Compiler[A]) SetLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	c.log = l
}

// NewStderrLogger returns the default verbose logger, exported so callers
// outside this package (cmd/tpdec) don't need to hand-roll one.
func NewStderrLogger() Logger { return stderrLogger{} }
