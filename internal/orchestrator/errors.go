package orchestrator

import "errors"

// Причины, по которым run не может быть взят в работу или отменён.
var (
	ErrRunNotFound   = errors.New("run not found")
	ErrRunNotPending = errors.New("run is not pending")

	// ErrGraphNotFound — версия графа, на которую ссылается run, удалена.
	ErrGraphNotFound = errors.New("graph version not found")

	// ErrInvalidGraph — сохранённое определение больше не собирается
	// (например, изменился набор типов job'ов).
	ErrInvalidGraph = errors.New("invalid graph definition")

	// ErrRunAlreadyActive — run уже выполняется на этом экземпляре.
	ErrRunAlreadyActive = errors.New("run already active on this instance")

	// ErrRunNotActive — run выполняется на другом экземпляре или уже завершён.
	ErrRunNotActive = errors.New("run not active on this instance")

	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
