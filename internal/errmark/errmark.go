// Package errmark attaches sentinel errors to failures.
//
// cockroachdb/errors.Mark records the mark in a form only its own errors.Is
// understands. The errors returned here answer to errors.Is from both the
// standard library and cockroachdb/errors, and still unwrap to the original
// cause.
package errmark

// Mark returns err marked with kind. A nil err stays nil.
func Mark(err, kind error) error {
	if err == nil {
		return nil
	}
	return &marked{cause: err, kind: kind}
}

type marked struct {
	cause error
	kind  error
}

func (m *marked) Error() string { return m.cause.Error() }

func (m *marked) Unwrap() error { return m.cause }

func (m *marked) Is(target error) bool { return target == m.kind }
