// Package call sequences fallible steps, such as the stages of bringing
// the runtime up
package call

import "fmt"

type (
	// Call is a deferred error-returning function
	Call func() error

	// Step is one named stage of a sequence. Undo, when set, reverses the
	// stage if a later one fails
	Step struct {
		Do   Call
		Undo func()
		Name string
	}
)

// Perform runs calls in order and stops on the first error
func Perform(calls ...Call) error {
	for _, call := range calls {
		if err := call(); err != nil {
			return err
		}
	}
	return nil
}

// Run performs steps in order. When one fails, the completed steps are
// undone in reverse order and the error is prefixed with the failed step's
// name
func Run(steps ...Step) error {
	for i, s := range steps {
		if err := s.Do(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if steps[j].Undo != nil {
					steps[j].Undo()
				}
			}
			if s.Name == "" {
				return err
			}
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return nil
}

// WithArg binds one argument to a call
func WithArg[Arg any](call func(Arg) error, arg Arg) Call {
	return func() error {
		return call(arg)
	}
}

// Func adapts a function that cannot fail to a Call
func Func(fn func()) Call {
	return func() error {
		fn()
		return nil
	}
}
