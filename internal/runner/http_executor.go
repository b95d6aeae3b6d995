package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPExecutor — executor для job'а типа "http".
//
// Обращается к REST API устройства (RESTCONF, eAPI, контроллер) или
// к внешнему сервису.
//
// Config:
//   - method (string): HTTP-метод. Default: GET
//   - url (string): полный URL; если не задан, собирается из адреса устройства
//   - scheme (string), port (number), path (string): части URL устройства
//   - headers (map[string]any): HTTP-заголовки
//   - body (any): тело запроса (сериализуется в JSON)
//   - timeout_sec (number): таймаут запроса. Default: 30
//
// Outputs:
//   - status_code (int), headers (map[string]string), body (JSON или строка)
type HTTPExecutor struct {
	// Client — HTTP-клиент; nil означает http.DefaultClient.
	Client *http.Client
}

// Execute выполняет HTTP-запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, task *Task) (*ExecutionResult, error) {
	method := getString(task.Payload, "method", http.MethodGet)
	url, err := requestURL(task)
	if err != nil {
		return nil, err
	}

	timeout := defaultHTTPTimeout
	if sec, ok := getNumber(task.Payload, "timeout_sec"); ok && sec > 0 {
		timeout = time.Duration(sec * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body, ok := task.Payload["body"]; ok && body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	setHeaders(req, task.Payload)
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}
	outputs := responseOutputs(resp, respBody)

	// status_code остаётся в outputs: по нему решается retry
	if resp.StatusCode >= 400 {
		return &ExecutionResult{
			Outputs: outputs,
			Error:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}, nil
	}

	return &ExecutionResult{Outputs: outputs}, nil
}

// requestURL возвращает url из config или собирает его из адреса устройства.
func requestURL(task *Task) (string, error) {
	if url := getString(task.Payload, "url", ""); url != "" {
		return url, nil
	}
	if task.Device == nil {
		return "", fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	host := task.Device.IPAddress
	if host == "" {
		host = task.Device.Name
	}
	if port, ok := getNumber(task.Payload, "port"); ok && port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(int(port)))
	}

	scheme := getString(task.Payload, "scheme", "https")
	return scheme + "://" + host + getString(task.Payload, "path", "/"), nil
}

func responseOutputs(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsed,
	}
}

func setHeaders(req *http.Request, payload map[string]any) {
	switch h := payload["headers"].(type) {
	case map[string]any:
		for key, val := range h {
			if s, ok := val.(string); ok {
				req.Header.Set(key, s)
			}
		}
	case map[string]string:
		for key, val := range h {
			req.Header.Set(key, val)
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
