// Package telemetry — логирование и метрики сервисов autonet.
//
// SetupLogger настраивает slog по секции logging конфига. Metrics
// собирает Prometheus-метрики runs и job'ов: счётчики по исходу,
// длительности и человеко-минуты, сэкономленные успешными runs.
// Метрики регистрируются в переданном Registerer и отдаются сервисами
// на /metrics.
package telemetry
