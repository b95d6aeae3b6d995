package runner

import "errors"

// Ошибки раннера.
var (
	// ErrUnknownJobType — нет executor'а для данного типа job'а.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrExecutionTimeout — выполнение превысило таймаут job'а.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrNoAddress — у устройства нет адреса для подключения.
	ErrNoAddress = errors.New("device has no address")
)
