package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// New returns an error with the supplied message and the caller stack.
func New(message string) error {
	return errors.New(message)
}

// Errorf formats according to a format specifier and records the caller stack.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap annotates err with message and a stack. Returns nil if err is nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message and a stack. Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithStack annotates err with the caller stack.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// Cause returns the underlying cause of the error.
func Cause(err error) error {
	return errors.Cause(err)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// NewWithReport 创建错误并上报
func NewWithReport(message string) error {
	err := errors.New(message)
	report(err)
	return err
}

// ErrorfAndReport 格式化错误并上报
func ErrorfAndReport(format string, args ...interface{}) error {
	err := errors.Errorf(format, args...)
	report(err)
	return err
}

// WrapAndReport wraps err and hands it to the registered reporters.
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, message)
	report(wrapped)
	return wrapped
}

// WrapfAndReport is WrapAndReport with a format specifier.
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, fmt.Sprintf(format, args...))
	report(wrapped)
	return wrapped
}

// Report hands an already constructed error to the reporters.
func Report(err error) {
	report(err)
}
