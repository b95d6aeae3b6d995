// Package engine содержит движок обхода графов job'ов.
//
// Включает:
//   - validate.go — проверка графа до начала обхода
//   - parser.go   — разбор файлов определения (YAML/JSON) и сборка графов
//   - queue.go    — очередь готовых job'ов (priority, затем порядок вставки)
//   - targets.go  — трекер устройств, дошедших до каждого job
//   - run.go      — контекст run: устройства, флаг остановки, прогресс
//   - walk.go     — основной цикл обхода
//   - invoke.go   — вызов листовых job'ов и вложенных графов
//   - result.go   — агрегация результата и учёт человеко-минут
//
// Обход однопоточный: job'ы выполняются строго по одному, порядок
// определяется очередью, поэтому при детерминированных job'ах результат
// run детерминирован. Параллельны только независимые run'ы.
package engine
