package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic turns a recovered panic value into a Permanent error carrying
// the stack trace. Panics are never retried.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return NewPermanent("PANIC", "handler panicked", map[string]interface{}{
		"panic":       true,
		"stack_trace": string(debug.Stack()),
	}).WithCause(err)
}
