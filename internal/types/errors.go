package types

import (
	"fmt"
	"time"
)

// ErrorKind classifies a tool-level failure.
type ErrorKind int

const (
	ContainmentViolation ErrorKind = iota + 1
	NotFound
	WrongType
	Truncated
	Timeout
	NonZeroExit
	IoFailure
	UnknownOperation
	InvalidArgument
)

var kindNames = map[ErrorKind]string{
	ContainmentViolation: "containment_violation",
	NotFound:             "not_found",
	WrongType:            "wrong_type",
	Truncated:            "truncated",
	Timeout:              "timeout",
	NonZeroExit:          "non_zero_exit",
	IoFailure:            "io_failure",
	UnknownOperation:     "unknown_operation",
	InvalidArgument:      "invalid_argument",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Op names the tool operation a ToolError came from.
type Op string

const (
	OpList  Op = "list"
	OpRead  Op = "read"
	OpWrite Op = "write"
	OpRun   Op = "run"
)

// verb is used in containment messages: `Cannot <verb> "x" ...`.
func (o Op) verb() string {
	switch o {
	case OpList:
		return "list"
	case OpRead:
		return "read"
	case OpWrite:
		return "write to"
	case OpRun:
		return "execute"
	default:
		return "access"
	}
}

// gerund is used in I/O failure messages.
func (o Op) gerund() string {
	switch o {
	case OpList:
		return "listing directory"
	case OpRead:
		return "reading file"
	case OpWrite:
		return "writing file"
	case OpRun:
		return "running file"
	default:
		return "accessing"
	}
}

// ToolError is a structured tool-level failure. It is rendered to text only
// when the tool result is handed to the model.
type ToolError struct {
	Kind ErrorKind
	Op   Op
	// Path is the path as the model supplied it.
	Path string
	// Want names the expected file type for WrongType.
	Want string
	// Reason explains a containment violation.
	Reason   string
	Limit    int
	ExitCode int
	Timeout  time.Duration
	// Name is the requested operation or argument name.
	Name string
	Err  error
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case ContainmentViolation:
		if e.Reason != "" && e.Reason != ReasonOutsideRoot {
			return fmt.Sprintf("Cannot %s %q: %s", e.Op.verb(), e.Path, e.Reason)
		}
		return fmt.Sprintf("Cannot %s %q as it is outside the permitted working directory", e.Op.verb(), e.Path)
	case NotFound:
		return fmt.Sprintf("File %q not found.", e.Path)
	case WrongType:
		return fmt.Sprintf("%q is not a %s", e.Path, e.Want)
	case Truncated:
		return fmt.Sprintf("File %q truncated at %d characters", e.Path, e.Limit)
	case Timeout:
		return fmt.Sprintf("%s %q: timed out after %s", e.Op.gerund(), e.Path, e.Timeout)
	case NonZeroExit:
		return fmt.Sprintf("Process exited with code %d", e.ExitCode)
	case IoFailure:
		return fmt.Sprintf("%s %q: %v", e.Op.gerund(), e.Path, e.Err)
	case UnknownOperation:
		return fmt.Sprintf("Unknown function: %s", e.Name)
	case InvalidArgument:
		if e.Err != nil {
			return fmt.Sprintf("invalid argument %q for %s: %v", e.Name, e.Op, e.Err)
		}
		return fmt.Sprintf("missing required argument %q for %s", e.Name, e.Op)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another ToolError by kind, so errors.Is(err, &ToolError{Kind: NotFound}) works.
func (e *ToolError) Is(target error) bool {
	t, ok := target.(*ToolError)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

// ReasonOutsideRoot is the default containment reason.
const ReasonOutsideRoot = "outside the permitted working directory"

// WithOp returns a copy of e attributed to op and the model-supplied path.
func (e *ToolError) WithOp(op Op, path string) *ToolError {
	if e == nil {
		return nil
	}
	out := *e
	out.Op = op
	out.Path = path
	return &out
}
