package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// envelope 所有后端响应的统一外壳：{status, message, data}
// 只接受这一种形状，不再逐个猜测 data/result/body/user
type envelope struct {
	Status  any             `json:"status"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

var errMissingData = errors.New("response envelope has no data")

// decodeEnvelope 解析外壳并把 data 解码到 out；out 为 nil 时只校验外壳
func decodeEnvelope(body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return errMissingData
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// decodeList 解析 {data:{result:[...]}}，result 缺失视为格式错误
func decodeList[T any](body []byte) ([]T, error) {
	var raw struct {
		Result json.RawMessage `json:"result"`
	}
	if err := decodeEnvelope(body, &raw); err != nil {
		return nil, err
	}
	if len(raw.Result) == 0 {
		return nil, errors.New("response data has no result")
	}

	var result []T
	if err := json.Unmarshal(raw.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if result == nil {
		result = []T{}
	}
	return result, nil
}

// errorMessage 从错误响应中提取可读信息
func errorMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if env.Message != "" {
		return env.Message
	}
	return env.Error
}
