// Package orchestrator выполняет runs.
//
// Orchestrator отвечает за:
//   - Получение новых runs из очереди RabbitMQ и polling БД
//   - Захват run (PENDING → RUNNING) так, что его выполняет один экземпляр
//   - Сборку графа из сохранённой версии и обход движком
//   - Остановку runs по run.cancel (результат "Aborted")
//   - Сохранение результата, метрики и публикацию run.completed
//
// Количество одновременно выполняемых runs ограничено; runs сверх
// лимита остаются PENDING, пока не освободится слот.
package orchestrator
