package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown          ErrorCode = 1000
	ErrInvalidParam     ErrorCode = 1001
	ErrNotFound         ErrorCode = 1002
	ErrAlreadyExists    ErrorCode = 1003
	ErrPermissionDenied ErrorCode = 1004
	ErrTimeout          ErrorCode = 1005
	ErrCanceled         ErrorCode = 1006
	ErrCapacityExceeded ErrorCode = 1007

	// 会话校验错误 (2000-2999)
	ErrSessionNotFound    ErrorCode = 2000
	ErrSessionTerminal    ErrorCode = 2001
	ErrInvalidConfig      ErrorCode = 2002
	ErrInvalidState       ErrorCode = 2003
	ErrTeamNotFound       ErrorCode = 2004
	ErrTeamFull           ErrorCode = 2005
	ErrAlreadyInSession   ErrorCode = 2006
	ErrNotInSession       ErrorCode = 2007
	ErrNotEnoughPlayers   ErrorCode = 2008
	ErrNotYourTurn        ErrorCode = 2009
	ErrRevivalAlreadyUsed ErrorCode = 2010
	ErrTeamNotEliminated  ErrorCode = 2011
	ErrTeamEmpty          ErrorCode = 2012
	ErrRoundInProgress    ErrorCode = 2013
	ErrStaleTurn          ErrorCode = 2014
	ErrGuessInProgress    ErrorCode = 2015

	// 依赖错误 (3000-3999)
	ErrOracleUnavailable  ErrorCode = 3000
	ErrOracleTimeout      ErrorCode = 3001
	ErrOracleInvalidScore ErrorCode = 3002
	ErrSnapshotNotFound   ErrorCode = 3003
	ErrSnapshotStore      ErrorCode = 3004
	ErrSnapshotCorrupt    ErrorCode = 3005
	ErrWordSource         ErrorCode = 3006

	// 通信错误 (4000-4999)
	ErrWebSocketSend   ErrorCode = 4000
	ErrWebSocketClosed ErrorCode = 4001
	ErrMessageFormat   ErrorCode = 4002

	// 数据库错误 (5000-5999)
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseDelete  ErrorCode = 5004

	// 配置错误 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigParse    ErrorCode = 6001
	ErrConfigValidate ErrorCode = 6002

	// 安全错误 (7000-7999)
	ErrAuthentication ErrorCode = 7000
	ErrTokenExpired   ErrorCode = 7001
	ErrTokenInvalid   ErrorCode = 7002
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	// 通用错误
	ErrUnknown:          "未知错误",
	ErrInvalidParam:     "无效的参数",
	ErrNotFound:         "资源未找到",
	ErrAlreadyExists:    "资源已存在",
	ErrPermissionDenied: "权限不足",
	ErrTimeout:          "操作超时",
	ErrCanceled:         "操作已取消",
	ErrCapacityExceeded: "会话数量已达上限",

	// 会话校验错误
	ErrSessionNotFound:    "会话不存在",
	ErrSessionTerminal:    "会话已结束",
	ErrInvalidConfig:      "无效的会话配置",
	ErrInvalidState:       "当前状态不允许该操作",
	ErrTeamNotFound:       "队伍不存在",
	ErrTeamFull:           "队伍已满",
	ErrAlreadyInSession:   "玩家已在本局其他队伍中",
	ErrNotInSession:       "玩家不在本局中",
	ErrNotEnoughPlayers:   "玩家人数不足",
	ErrNotYourTurn:        "还没轮到你",
	ErrRevivalAlreadyUsed: "复活机会已使用",
	ErrTeamNotEliminated:  "队伍尚未被淘汰",
	ErrTeamEmpty:          "队伍没有可复活的成员",
	ErrRoundInProgress:    "回合进行中",
	ErrStaleTurn:          "回合已过期",
	ErrGuessInProgress:    "猜词正在处理中",

	// 依赖错误
	ErrOracleUnavailable:  "相似度服务不可用",
	ErrOracleTimeout:      "相似度服务超时",
	ErrOracleInvalidScore: "相似度分数无效",
	ErrSnapshotNotFound:   "会话快照不存在",
	ErrSnapshotStore:      "会话快照存储失败",
	ErrSnapshotCorrupt:    "会话快照已损坏",
	ErrWordSource:         "词库不可用",

	// 通信错误
	ErrWebSocketSend:   "WebSocket发送失败",
	ErrWebSocketClosed: "WebSocket连接已关闭",
	ErrMessageFormat:   "消息格式错误",

	// 数据库错误
	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
	ErrDatabaseDelete:  "数据库删除失败",

	// 配置错误
	ErrConfigLoad:     "配置加载失败",
	ErrConfigParse:    "配置解析失败",
	ErrConfigValidate: "配置验证失败",

	// 安全错误
	ErrAuthentication: "认证失败",
	ErrTokenExpired:   "令牌已过期",
	ErrTokenInvalid:   "无效的令牌",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`            // 错误码
	Message string       `json:"message"`         // 错误消息
	Details string       `json:"details"`         // 详细信息
	Cause   error        `json:"-"`               // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return New(code, details)
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码
	if appErr, ok := As(err); ok {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr := New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return Wrap(err, code, details)
}

// As 在错误链中查找AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	if appErr, ok := As(err); ok {
		return appErr.Code
	}

	return ErrUnknown
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	if n > 0 {
		frames := runtime.CallersFrames(pcs[:n])
		for {
			frame, more := frames.Next()

			// 跳过runtime和本包的调用
			if strings.Contains(frame.Function, "runtime.") ||
				strings.Contains(frame.Function, "github.com/wfunc/word-duel/internal/errors") {
				if !more {
					break
				}
				continue
			}

			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})

			if !more {
				break
			}

			// 只保留前10个栈帧
			if len(e.Stack) >= 10 {
				break
			}
		}
	}
}

// GetStack 获取格式化的调用栈
func (e *AppError) GetStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, frame := range e.Stack {
		builder.WriteString(fmt.Sprintf("%d. %s\n   %s:%d\n",
			i+1, frame.Function, frame.File, frame.Line))
	}

	return builder.String()
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrNotFound, e.Code == ErrSessionNotFound,
		e.Code == ErrTeamNotFound, e.Code == ErrSnapshotNotFound:
		return 404 // Not Found
	case e.Code == ErrInvalidParam, e.Code == ErrInvalidConfig, e.Code == ErrMessageFormat:
		return 400 // Bad Request
	case e.Code == ErrPermissionDenied, e.Code == ErrNotYourTurn:
		return 403 // Forbidden
	case e.Code == ErrTimeout:
		return 408 // Request Timeout
	case IsValidation(e), e.Code == ErrAlreadyExists:
		return 409 // Conflict
	case e.Code >= 7000 && e.Code <= 7999:
		return 401 // Unauthorized
	case e.Code == ErrCapacityExceeded:
		return 429 // Too Many Requests
	case IsDependency(e), e.Code >= 5000 && e.Code <= 5999:
		return 503 // Service Unavailable
	default:
		return 500 // Internal Server Error
	}
}

// IsValidation 判断是否为校验类错误（同步拒绝，不改变状态）
func IsValidation(err error) bool {
	code := GetCode(err)
	return code >= 2000 && code <= 2999
}

// IsDependency 判断是否为依赖类错误（相似度服务、快照存储、词库）
func IsDependency(err error) bool {
	code := GetCode(err)
	return code >= 3000 && code <= 3999
}

// IsTerminal 判断是否为终局状态错误
func IsTerminal(err error) bool {
	return Is(err, ErrSessionTerminal)
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch GetCode(err) {
	case ErrTimeout,
		ErrOracleTimeout,
		ErrOracleUnavailable,
		ErrSnapshotStore,
		ErrDatabaseConnect,
		ErrDatabaseQuery:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
