package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError when a subsystem tag adds
// information for ErrorCodeOf.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrDisabled     = fmt.Errorf("disabled")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	ErrConfigLoad = fmt.Errorf("failed to load configuration")
	ErrDecryption = fmt.Errorf("decryption failed")
	ErrEncryption = fmt.Errorf("encryption operation failed")
	ErrRateLimit  = fmt.Errorf("rate limit exceeded")

	// Transport errors. Every failure leaving the retrying transport is
	// wrapped in exactly one of these.
	ErrConnect             = fmt.Errorf("connection failed")
	ErrProxy               = fmt.Errorf("proxy error")
	ErrStaleConnection     = fmt.Errorf("stale connection")
	ErrProtocol            = fmt.Errorf("protocol error")
	ErrUnsupportedProtocol = fmt.Errorf("unsupported protocol")

	// Engine errors.
	ErrEngineSuspended = fmt.Errorf("engine suspended")
	ErrEngineNotFound  = fmt.Errorf("engine: %w", ErrNotFound)
	ErrHTTPStatus      = fmt.Errorf("unexpected http status")
	ErrParse           = fmt.Errorf("response parsing failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Network.Do")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "engine", "network"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeEncryption          ErrorCode = "ENCRYPTION"
	CodeDecryption          ErrorCode = "DECRYPTION"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeConnect             ErrorCode = "CONNECT"
	CodeProxy               ErrorCode = "PROXY"
	CodeStaleConnection     ErrorCode = "STALE_CONNECTION"
	CodeProtocol            ErrorCode = "PROTOCOL"
	CodeUnsupportedProtocol ErrorCode = "UNSUPPORTED_PROTOCOL"
	CodeEngineSuspended     ErrorCode = "ENGINE_SUSPENDED"
	CodeHTTPStatus          ErrorCode = "HTTP_STATUS"
	CodeParse               ErrorCode = "PARSE"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeEngineNotFound  ErrorCode = "ENGINE_NOT_FOUND"
	CodeEngineTimeout   ErrorCode = "ENGINE_TIMEOUT"
	CodeNetworkNotFound ErrorCode = "NETWORK_NOT_FOUND"
	CodePluginNotFound  ErrorCode = "PLUGIN_NOT_FOUND"
	CodePluginDuplicate ErrorCode = "PLUGIN_DUPLICATE"
	CodeEngineDisabled  ErrorCode = "ENGINE_DISABLED"

	// Category error codes, used when no subsystem-specific code matches.
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeDuplicate    ErrorCode = "DUPLICATE"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeDisabled     ErrorCode = "DISABLED"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrDuplicate:    CodeDuplicate,
	ErrTimeout:      CodeTimeout,
	ErrDisabled:     CodeDisabled,
	ErrInvalidInput: CodeInvalidInput,

	ErrConfigLoad:          CodeConfigLoad,
	ErrDecryption:          CodeDecryption,
	ErrEncryption:          CodeEncryption,
	ErrRateLimit:           CodeRateLimit,
	ErrConnect:             CodeConnect,
	ErrProxy:               CodeProxy,
	ErrStaleConnection:     CodeStaleConnection,
	ErrProtocol:            CodeProtocol,
	ErrUnsupportedProtocol: CodeUnsupportedProtocol,
	ErrEngineSuspended:     CodeEngineSuspended,
	ErrEngineNotFound:      CodeEngineNotFound,
	ErrHTTPStatus:          CodeHTTPStatus,
	ErrParse:               CodeParse,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"engine":  CodeEngineNotFound,
		"network": CodeNetworkNotFound,
		"plugin":  CodePluginNotFound,
	},
	ErrDuplicate: {
		"plugin": CodePluginDuplicate,
	},
	ErrTimeout: {
		"engine": CodeEngineTimeout,
	},
	ErrDisabled: {
		"engine": CodeEngineDisabled,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Transport sentinels first: they are the most specific codes a wrapped
	// network failure can carry.
	for _, sentinel := range []error{ErrProxy, ErrConnect, ErrStaleConnection, ErrProtocol, ErrUnsupportedProtocol, ErrEngineNotFound} {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
