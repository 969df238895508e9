package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	// CodeModuleResolution: a declared submodule has no realizing file.
	CodeModuleResolution ErrorCode = "MODULE_RESOLUTION"
	// CodeImportClassification: a reference path matches no classification rule.
	CodeImportClassification ErrorCode = "IMPORT_CLASSIFICATION"
	// CodeCrateNotFound: a crate name is not a workspace member.
	CodeCrateNotFound ErrorCode = "CRATE_NOT_FOUND"
	// CodeCyclicDependency: a reference cycle back-edge. Never fatal.
	CodeCyclicDependency ErrorCode = "CYCLIC_DEPENDENCY"
	// CodeUnsupportedPattern: a retained reference has no safe rewrite.
	CodeUnsupportedPattern ErrorCode = "UNSUPPORTED_PATTERN"
	// CodeCargoMetadata: cargo metadata failed or produced invalid JSON.
	CodeCargoMetadata ErrorCode = "CARGO_METADATA"
	// CodeDependencyMerge: version requirements cannot be reconciled.
	CodeDependencyMerge ErrorCode = "DEPENDENCY_MERGE"
	// CodePackaging: destination conflict or output write failure.
	CodePackaging ErrorCode = "PACKAGING"
	CodeInternal  ErrorCode = "INTERNAL_ERROR"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

const (
	CtxCrate     = "crate"
	CtxModule    = "module"
	CtxStatement = "statement"
	CtxPath      = "path"
	CtxOperation = "operation"
)

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Newf(code ErrorCode, format string, args ...interface{}) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return de
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsFatal reports whether the error aborts a run. Only cycle warnings are
// survivable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !IsCode(err, CodeCyclicDependency)
}
