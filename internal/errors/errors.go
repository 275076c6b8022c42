package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
)

// Code 是统一错误码。
type Code string

// Severity 用于告警与日志分级。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind 把错误码归入 Worker 的三类处理策略。
type Kind string

const (
	// KindSetup 终止当前 Worker，由编排器决定是否带退避重启。
	KindSetup Kind = "setup"
	// KindOperation 记录日志，Worker 等待后从初始化重新开始本轮。
	KindOperation Kind = "operation"
	// KindAPI 记录日志，调用方继续下一个独立步骤。
	KindAPI Kind = "api"
	// KindOther 表示不参与周期控制的错误，如参数或查询类错误。
	KindOther Kind = "other"
)

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeTimeout          Code = "TIMEOUT"
	CodeSetupFailure     Code = "SETUP_FAILURE"
	CodeOperationFailure Code = "OPERATION_FAILURE"
	CodeAPIFailure       Code = "API_FAILURE"
	CodeRequestFailed    Code = "REQUEST_FAILED"
	CodeStorageFailure   Code = "STORAGE_FAILURE"
	CodePublishFailure   Code = "PUBLISH_FAILURE"
)

// Attributes 是错误码的默认行为。
type Attributes struct {
	Message   string
	Kind      Kind
	Severity  Severity
	Retryable bool
	Alert     bool
}

var attributes = map[Code]Attributes{
	CodeUnknown:          {Message: "unknown error", Kind: KindOther, Severity: SeverityCritical, Alert: true},
	CodeInvalidArgument:  {Message: "invalid argument", Kind: KindOther, Severity: SeverityInfo},
	CodeNotFound:         {Message: "resource not found", Kind: KindOther, Severity: SeverityInfo},
	CodeTimeout:          {Message: "operation timed out", Kind: KindOperation, Severity: SeverityWarning, Retryable: true},
	CodeSetupFailure:     {Message: "account setup failed", Kind: KindSetup, Severity: SeverityCritical, Alert: true},
	CodeOperationFailure: {Message: "chain operation failed", Kind: KindOperation, Severity: SeverityWarning, Retryable: true},
	CodeAPIFailure:       {Message: "api request rejected", Kind: KindAPI, Severity: SeverityInfo, Retryable: true},
	CodeRequestFailed:    {Message: "request failed", Kind: KindAPI, Severity: SeverityWarning, Retryable: true},
	// 配额存储失败中止本轮，但不终止 Worker。
	CodeStorageFailure: {Message: "storage failure", Kind: KindOperation, Severity: SeverityCritical, Retryable: true, Alert: true},
	CodePublishFailure: {Message: "event publish failed", Kind: KindOther, Severity: SeverityWarning, Retryable: true},
}

// AttributesOf 返回错误码的属性，未知错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	if attr, ok := attributes[code]; ok {
		return attr
	}
	return attributes[CodeUnknown]
}

// Error 是带错误码的错误，可以沿 %w 链传递。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加一项上下文信息，会随告警一起发送。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSeverity 覆盖错误码的默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = sev
	}
}

// New 创建错误，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 以指定错误码包裹 cause。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码匹配，使 errors.Is(err, &Error{code: X}) 能穿过包装链。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含 cause 的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// Severity 返回严重程度，优先使用 WithSeverity 的设置。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != "" {
		return e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 返回错误链上最外层的 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回最外层错误码，普通 error 视为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// KindOf 返回最外层错误码的处理类别。
func KindOf(err error) Kind {
	return AttributesOf(CodeOf(err)).Kind
}

// HasCode 判断错误链上任意一层是否带有指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// IsSetup 判断错误是否属于账户初始化失败。
func IsSetup(err error) bool {
	return HasCode(err, CodeSetupFailure)
}

// IsAPI 判断错误是否来自外部 HTTP 接口，含传输层失败。
func IsAPI(err error) bool {
	return HasCode(err, CodeAPIFailure) || HasCode(err, CodeRequestFailed)
}

// RetryableError 判断错误是否值得在下一轮重试。
func RetryableError(err error) bool {
	return AttributesOf(CodeOf(err)).Retryable
}

// ShouldAlert 判断错误码是否默认触发告警。
func ShouldAlert(err error) bool {
	return AttributesOf(CodeOf(err)).Alert
}

// SeverityOf 返回严重程度，普通 error 视为 critical。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
