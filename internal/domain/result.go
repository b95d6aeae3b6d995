package domain

// AbortedMessage — значение result у run, остановленного пользователем.
const AbortedMessage = "Aborted"

// Summary — разбиение устройств по исходу.
//
// Для tracking-обхода Success и Failure не пересекаются.
type Summary struct {
	Success []string `json:"success"`
	Failure []string `json:"failure"`
}

// Names возвращает множество устройств для исхода.
func (s *Summary) Names(o Outcome) []string {
	if s == nil {
		return nil
	}
	if o == OutcomeSuccess {
		return s.Success
	}
	return s.Failure
}

// Result — результат выполнения job или графа.
type Result struct {
	// Success — итоговый исход.
	Success bool `json:"success"`

	// Result — произвольный payload (вывод job, текст ошибки, "Aborted").
	Result any `json:"result,omitempty"`

	// Summary — разбиение устройств; nil, если job не работал с устройствами.
	Summary *Summary `json:"summary,omitempty"`
}

// Outcome возвращает исход результата.
func (r *Result) Outcome() Outcome {
	return OutcomeOf(r.Success)
}

// IsAborted возвращает true для результата остановленного run.
func (r *Result) IsAborted() bool {
	if r == nil || r.Success {
		return false
	}
	s, ok := r.Result.(string)
	return ok && s == AbortedMessage
}

// Aborted — результат run, остановленного до завершения.
func Aborted() *Result {
	return &Result{Success: false, Result: AbortedMessage}
}

// Failed — результат job, завершившегося ошибкой.
func Failed(err error) *Result {
	return &Result{Success: false, Result: err.Error()}
}
