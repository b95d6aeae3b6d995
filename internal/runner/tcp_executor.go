package runner

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	defaultTCPPort    = 22
	defaultTCPTimeout = 5 * time.Second
)

// TCPCheckExecutor — executor для job'а типа "tcp_check".
//
// Проверяет, что на устройстве открыт порт (SSH, NETCONF, HTTPS).
//
// Config:
//   - port (number): порт (default: 22)
//   - host (string): адрес; по умолчанию ip_address устройства, затем его имя
//   - timeout_sec (number): таймаут подключения (default: 5)
//
// Outputs:
//   - address (string): адрес подключения
//   - latency_ms (number): время установки соединения
type TCPCheckExecutor struct{}

// Execute выполняет проверку.
func (e *TCPCheckExecutor) Execute(ctx context.Context, task *Task) (*ExecutionResult, error) {
	host := getString(task.Payload, "host", "")
	if host == "" && task.Device != nil {
		host = task.Device.IPAddress
		if host == "" {
			host = task.Device.Name
		}
	}
	if host == "" {
		return nil, ErrNoAddress
	}

	port := defaultTCPPort
	if p, ok := getNumber(task.Payload, "port"); ok && p > 0 {
		port = int(p)
	}

	timeout := defaultTCPTimeout
	if sec, ok := getNumber(task.Payload, "timeout_sec"); ok && sec > 0 {
		timeout = time.Duration(sec * float64(time.Second))
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}

	started := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	latency := time.Since(started)

	outputs := map[string]any{
		"address":    address,
		"latency_ms": latency.Milliseconds(),
	}
	if err != nil {
		// Закрытый порт — исход job'а, а не сбой раннера
		return &ExecutionResult{
			Outputs: outputs,
			Error:   fmt.Sprintf("%s unreachable: %v", address, err),
		}, nil
	}
	_ = conn.Close()

	return &ExecutionResult{Outputs: outputs}, nil
}
