package market

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError 配置错误: missing identity fields or an unconfigured security type.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Message, e.Cause)
	}
	return "configuration: " + e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// NotFoundError 未找到: a single-record lookup matched nothing.
type NotFoundError struct {
	What string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.Key)
}

// AmbiguousReferenceError 引用不唯一: a single-record lookup matched several rows.
type AmbiguousReferenceError struct {
	Ref     string
	Matches []string
}

func (e *AmbiguousReferenceError) Error() string {
	return fmt.Sprintf("ambiguous reference %q: matches %s", e.Ref, strings.Join(e.Matches, ", "))
}

// ParseError 解析错误: a stored row carries a malformed field.
type ParseError struct {
	Path   string
	Row    int // 1-based data row, header excluded
	Column string
	Value  string
	Cause  error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s row %d column %q value %q", e.Path, e.Row, e.Column, e.Value)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Cause }

// StorageError 存储错误: local file I/O failed.
type StorageError struct {
	Op    string
	Path  string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// Configf builds a ConfigurationError.
func Configf(format string, args ...interface{}) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAmbiguous reports whether err is, or wraps, an AmbiguousReferenceError.
func IsAmbiguous(err error) bool {
	var target *AmbiguousReferenceError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsParse reports whether err is, or wraps, a ParseError.
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}
