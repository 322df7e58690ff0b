package multierror

import (
	"errors"
	"slices"
)

type MultiError struct {
	errors []error
}

func (m *MultiError) Error() string {
	var s string
	for _, err := range m.errors {
		s += err.Error() + "\n"
	}
	return s
}

func (m *MultiError) Unwrap() []error {
	return m.errors
}

func (m *MultiError) Errors() []error {
	return m.errors
}

func (m *MultiError) Is(err error) bool {
	for _, e := range m.errors {
		if e == err {
			return true
		}
	}
	return false
}

func (m *MultiError) As(target any) bool {
	for _, e := range m.errors {
		if errors.As(e, target) {
			return true
		}
	}
	return false
}

// Append folds errs into err, returning a *MultiError. err may be nil (the
// common zero-value accumulator in a fan-out loop); errs entries that are
// nil are skipped so callers can pass raw results without pre-filtering.
func Append(err error, errs ...error) error {
	var present []error
	for _, e := range errs {
		if e != nil {
			present = append(present, e)
		}
	}
	if len(present) == 0 {
		return err
	}

	me, ok := err.(*MultiError)
	if ok {
		return &MultiError{
			errors: append(slices.Clone(me.errors), present...),
		}
	}
	if err != nil {
		present = append([]error{err}, present...)
	}

	return &MultiError{
		errors: present,
	}
}
