package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"taskboard-backend/pkg/workflow"
)

// APIResponse 标准API响应结构
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError 错误信息结构
type APIError struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Details  string   `json:"details,omitempty"`
	Blockers []string `json:"blockers,omitempty"`
	// Retryable tells clients whether repeating the same request may succeed.
	Retryable bool `json:"retryable,omitempty"`
}

// WriteJSONResponse 写入JSON响应
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeEnvelope(w, statusCode, APIResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	})
}

// WriteSuccessResponse 写入成功响应
func WriteSuccessResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusOK, data)
}

// WriteCreatedResponse 写入创建成功响应
func WriteCreatedResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusCreated, data)
}

// WriteErrorResponseWithCode 写入带错误代码的错误响应
func WriteErrorResponseWithCode(w http.ResponseWriter, statusCode int, code, message, details string) {
	writeEnvelope(w, statusCode, APIResponse{
		Error: &APIError{Code: code, Message: message, Details: details},
	})
}

// WriteBadRequestResponse 写入400错误响应
func WriteBadRequestResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusBadRequest, "BAD_REQUEST", message, "")
}

// WriteUnauthorizedResponse 写入401错误响应
func WriteUnauthorizedResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", message, "")
}

// WriteNotFoundResponse 写入404错误响应
func WriteNotFoundResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusNotFound, "NOT_FOUND", message, "")
}

// WriteInternalServerErrorResponse 写入500错误响应
func WriteInternalServerErrorResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message, "")
}

// engineErrors maps engine error kinds to a status code and an error code.
var engineErrors = map[workflow.Kind]struct {
	status int
	code   string
}{
	workflow.KindPermissionDenied: {http.StatusForbidden, "PERMISSION_DENIED"},
	workflow.KindNotFound:         {http.StatusNotFound, "NOT_FOUND"},
	workflow.KindBlocked:          {http.StatusConflict, "BLOCKED"},
	workflow.KindFeatureDisabled:  {http.StatusForbidden, "FEATURE_DISABLED"},
	workflow.KindConflict:         {http.StatusConflict, "CONFLICT"},
	workflow.KindStoreUnavailable: {http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	workflow.KindInvalidArgument:  {http.StatusBadRequest, "INVALID_ARGUMENT"},
}

// EngineErrorStatus returns the HTTP status WriteEngineError uses for err.
func EngineErrorStatus(err error) int {
	if m, ok := engineErrors[workflow.KindOf(err)]; ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// WriteEngineError 将引擎错误映射为HTTP响应
// Internal errors are reported without their message.
func WriteEngineError(w http.ResponseWriter, err error) {
	kind := workflow.KindOf(err)
	m, ok := engineErrors[kind]
	if !ok {
		WriteInternalServerErrorResponse(w, "Internal server error occurred")
		return
	}
	apiErr := &APIError{Code: m.code, Message: err.Error(), Retryable: workflow.Retryable(err)}
	var blocked *workflow.BlockedError
	if errors.As(err, &blocked) {
		apiErr.Blockers = blocked.Blockers
	}
	writeEnvelope(w, m.status, APIResponse{Error: apiErr})
}

func writeEnvelope(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// The status line is already out; an encoding failure can only truncate the body.
	_ = json.NewEncoder(w).Encode(response)
}

// ParseJSONBody 解析JSON请求体
func ParseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// GetQueryParam 获取查询参数，如果不存在则返回默认值
func GetQueryParam(r *http.Request, key, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}
