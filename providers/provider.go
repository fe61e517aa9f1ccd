package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/BaSui01/mediaflow/credential"
	"github.com/BaSui01/mediaflow/task"
	"github.com/BaSui01/mediaflow/transport"
	"github.com/BaSui01/mediaflow/types"
)

var operationPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,127}$`)

// ChooseOperation 按优先级选择端点或模型：
// 1. 请求指定的 operation
// 2. 配置中的值
// 3. Provider 默认值
//
// 结果会拼进 URL 路径，因此只允许字母数字与 . _ - / 字符，且不允许 "..".
func ChooseOperation(provider, requested, configured, fallback string) (string, error) {
	op := requested
	if op == "" {
		op = configured
	}
	if op == "" {
		op = fallback
	}
	if !operationPattern.MatchString(op) || containsDotDot(op) {
		return "", types.NewInvalidRequestError(fmt.Sprintf("invalid operation %q", op)).
			WithHTTPStatus(http.StatusBadRequest).
			WithProvider(provider)
	}
	return op, nil
}

func containsDotDot(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			return true
		}
	}
	return false
}

// APIKey 取出 API Key；Resolver 已保证类型正确，这里只做防御性检查。
func APIKey(provider string, c credential.Credential) (string, error) {
	k, ok := c.(credential.APIKey)
	if !ok || k.Key == "" {
		return "", types.NewConfigurationError(provider, "api key credential required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	return k.Key, nil
}

// SubmissionTransportError 提交请求在网络层失败。
func SubmissionTransportError(provider string, err error) *types.Error {
	return types.NewError(types.ErrSubmission, "submission request failed").
		WithCause(err).
		WithHTTPStatus(http.StatusBadGateway).
		WithProvider(provider)
}

// SubmissionHTTPError 提交请求被上游拒绝，附带上游状态码与响应体。
func SubmissionHTTPError(provider string, resp *transport.Response) *types.Error {
	return types.NewError(types.ErrSubmission, fmt.Sprintf("provider rejected submission with status %d", resp.StatusCode)).
		WithHTTPStatus(http.StatusBadGateway).
		WithProvider(provider).
		WithDetails(map[string]any{
			"upstream_status": resp.StatusCode,
			"upstream_body":   task.Diagnostic(resp.Body),
		})
}

// MissingTaskID 上游返回成功但缺少任务 ID，立即失败而不是轮询一个空 ID。
func MissingTaskID(provider string, resp *transport.Response) *types.Error {
	return types.NewError(types.ErrSubmission, "provider response carries no task id").
		WithHTTPStatus(http.StatusBadGateway).
		WithProvider(provider).
		WithDetails(map[string]any{
			"upstream_status": resp.StatusCode,
			"upstream_body":   task.Diagnostic(resp.Body),
		})
}

// InvalidPayload 入站载荷不是 JSON 对象。
func InvalidPayload(provider string, err error) *types.Error {
	return types.NewInvalidRequestError("payload must be a JSON object").
		WithCause(err).
		WithHTTPStatus(http.StatusBadRequest).
		WithProvider(provider)
}

// DecodeObject 将透传载荷解码为对象，空载荷视为空对象。
func DecodeObject(provider string, payload json.RawMessage) (map[string]any, error) {
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, InvalidPayload(provider, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// Observe 将一次 HTTP 状态查询的结果转换为 Observation，token 由调用方
// 从响应体中提取。
func Observe(resp *transport.Response, token string) *task.Observation {
	return &task.Observation{HTTPStatus: resp.StatusCode, Token: token, Body: resp.Body}
}

// DecodeResult 把已完成任务的响应体解码为通用 JSON 值。
func DecodeResult(body []byte) (any, error) {
	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}
