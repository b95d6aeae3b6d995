package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — граф обходится движком.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — обход завершён с success=true.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — обход завершён с success=false или граф оказался некорректным.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run остановлен пользователем (результат "Aborted").
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseRunStatus парсит строку в RunStatus.
func ParseRunStatus(s string) (RunStatus, bool) {
	switch RunStatus(s) {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return RunStatus(s), true
	default:
		return "", false
	}
}

// Outcome — исход job: по нему выбираются исходящие рёбра.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Outcomes — порядок, в котором движок перебирает типы рёбер.
var Outcomes = []Outcome{OutcomeSuccess, OutcomeFailure}

// OutcomeOf переводит флаг success в Outcome.
func OutcomeOf(success bool) Outcome {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// Valid проверяет, что исход — success или failure.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Color — цвет ребра в редакторе.
func (o Outcome) Color() string {
	if o == OutcomeSuccess {
		return "green"
	}
	return "red"
}

// RunMethod — стратегия назначения устройств job'ам графа.
type RunMethod string

const (
	// RunMethodPerDevice — граф обходится независимо для каждого устройства.
	RunMethodPerDevice RunMethod = "per_device"

	// RunMethodWorkflowTargets — один обход, устройства run'а распространяются
	// по рёбрам вместе с результатами.
	RunMethodWorkflowTargets RunMethod = "per_service_with_workflow_targets"

	// RunMethodServiceTargets — один обход, каждый job берёт свои собственные устройства.
	RunMethodServiceTargets RunMethod = "per_service_with_service_targets"
)

// Valid проверяет, что метод известен.
func (m RunMethod) Valid() bool {
	switch m {
	case RunMethodPerDevice, RunMethodWorkflowTargets, RunMethodServiceTargets:
		return true
	default:
		return false
	}
}

// Tracking возвращает true, если метод распространяет устройства по рёбрам.
func (m RunMethod) Tracking() bool {
	return m == RunMethodWorkflowTargets
}

// EffortMode — способ учёта сэкономленных человеко-минут.
type EffortMode string

const (
	// EffortModeWorkflow — минуты засчитываются один раз за успешный run.
	EffortModeWorkflow EffortMode = "workflow"

	// EffortModeDevice — минуты умножаются на число успешных устройств.
	EffortModeDevice EffortMode = "device"
)

// Valid проверяет режим учёта.
func (m EffortMode) Valid() bool {
	return m == EffortModeWorkflow || m == EffortModeDevice
}
