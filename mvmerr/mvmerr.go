// Package mvmerr defines the flat error-code enumeration used across the
// engine and the two ways an error surfaces: as a returned Code a host can
// switch on, or as a fatal call into the host's hook that never returns.
package mvmerr

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Code is the flat error enumeration used across the engine, including
// the reserved and internal-signal codes a host never constructs directly.
type Code int

const (
	Success Code = iota
	Unexpected
	MallocFail
	AllocationTooLarge
	InvalidAddress
	CopyAcrossBucketBoundary
	FunctionNotFound
	InvalidHandle
	StackOverflow
	UnresolvedImport
	AttemptToWriteToROM
	InvalidArguments
	TypeError
	TargetNotCallable
	HostError
	NotImplemented
	HostReturnedInvalidValue
	AssertionFailed
	InvalidBytecode
	UnresolvedExport
	RangeError
	DetachedEphemeral
	TargetIsNotAVMFunction
	Float64Required
	NaNResult
	NegZeroResult
	OperationRequiresFloatSupport
	BytecodeCRCFail
	BytecodeRequiresFloatSupport
	ProtoIsReadonly
	SnapshotTooLarge
	MallocMustReturnPointerToEvenBoundary
	ArrayTooLong
	OutOfMemory
	TooManyArguments
	RequiresLaterEngine
	PortFileVersionMismatch
	PortFileMacroTestFailure
	ExpectedPointerSizeToBe16Bit
	ExpectedPointerSizeNotToBe16Bit
	TDZError
	MallocNotWithinRAMPage
	InvalidArrayIndex
	UncaughtException
	FatalErrorMustKillVM
)

var names = map[Code]string{
	Success:                                "success",
	Unexpected:                             "unexpected",
	MallocFail:                             "malloc failed",
	AllocationTooLarge:                     "allocation too large",
	InvalidAddress:                         "invalid address",
	CopyAcrossBucketBoundary:               "copy would cross bucket boundary",
	FunctionNotFound:                       "function not found",
	InvalidHandle:                          "invalid handle",
	StackOverflow:                          "stack overflow",
	UnresolvedImport:                       "unresolved import",
	AttemptToWriteToROM:                    "attempt to write to ROM",
	InvalidArguments:                       "invalid arguments",
	TypeError:                              "type error",
	TargetNotCallable:                      "target is not callable",
	HostError:                              "host error",
	NotImplemented:                         "not implemented",
	HostReturnedInvalidValue:               "host returned invalid value",
	AssertionFailed:                        "assertion failed",
	InvalidBytecode:                        "invalid bytecode",
	UnresolvedExport:                       "unresolved export",
	RangeError:                             "range error",
	DetachedEphemeral:                      "detached ephemeral",
	TargetIsNotAVMFunction:                 "target is not a VM function",
	Float64Required:                        "value requires float64",
	NaNResult:                              "result is NaN",
	NegZeroResult:                          "result is negative zero",
	OperationRequiresFloatSupport:          "operation requires float support",
	BytecodeCRCFail:                        "bytecode CRC check failed",
	BytecodeRequiresFloatSupport:           "bytecode requires float support",
	ProtoIsReadonly:                        "__proto__ is read-only",
	SnapshotTooLarge:                       "snapshot too large",
	MallocMustReturnPointerToEvenBoundary:  "malloc must return a pointer to an even boundary",
	ArrayTooLong:                           "array too long",
	OutOfMemory:                            "out of memory",
	TooManyArguments:                       "too many arguments",
	RequiresLaterEngine:                    "bytecode requires a later engine version",
	PortFileVersionMismatch:                "port file version mismatch",
	PortFileMacroTestFailure:               "port file macro self-test failed",
	ExpectedPointerSizeToBe16Bit:           "expected native pointer size to be 16-bit",
	ExpectedPointerSizeNotToBe16Bit:        "expected native pointer size not to be 16-bit",
	TDZError:                               "variable accessed before declaration",
	MallocNotWithinRAMPage:                 "malloc result not within configured RAM page",
	InvalidArrayIndex:                      "invalid array index",
	UncaughtException:                     "uncaught exception",
	FatalErrorMustKillVM:                  "fatal error hook must not return",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("mvmerr.Code(%d)", int(c))
}

// Error wraps a Code with additional context. The top-level entry points
// (image.Restore, interp.Call and friends) always return a *Error whose
// Code a host can switch on; internal call sites that have an underlying
// cause use Wrap, which pins a github.com/pkg/errors stack trace to it
// without losing the code.
type Error struct {
	code  Code
	cause error
}

func New(code Code) *Error { return &Error{code: code} }

// Wrap attaches cause to code, via pkgerrors.WithStack so a host-side
// diagnostic log formatting the result with "%+v" gets a stack trace
// pinned to where the underlying failure was first observed, not just
// where it was last passed along.
func Wrap(code Code, cause error) *Error {
	return &Error{code: code, cause: pkgerrors.WithStack(cause)}
}

func (e *Error) Code() Code { return e.code }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.code, e.cause)
	}
	return e.code.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err is an *Error with the given code, so callers can
// write errors.Is(err, mvmerr.New(mvmerr.TypeError)) or, more idiomatically,
// mvmerr.CodeOf(err) == mvmerr.TypeError.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, and
// Unexpected otherwise.
func CodeOf(err error) Code {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return Unexpected
	}
	return e.code
}
