// Package progress содержит приёмники прогресса run'ов (engine.ProgressSink).
//
//   - Memory — счётчики в памяти, читаются через Snapshot
//   - MQTT   — публикация каждого изменения в брокер
//   - Multi  — запись в несколько приёмников
//
// Пути прогресса задаёт движок: "<граф>/progress/job/success",
// "<граф>/edges/<id ребра>" и т.п. MQTT публикует их в топики
// <prefix>/<run id>/<путь>.
package progress
