package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack. It must be
// called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "config watcher")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// MustRecover converts a recovered value into an error, or nil when there
// was no panic:
//
//	defer func() {
//	    if perr := observability.MustRecover(recover()); perr != nil {
//	        err = perr
//	    }
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
