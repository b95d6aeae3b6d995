// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Connection переподключается к брокеру сам и повторяет объявление
// топологии на каждом новом соединении. Публикация идёт через общий
// канал, каждый Consumer читает на своём канале и после разрыва ждёт
// Connection.Reconnected.
//
// Типы сообщений:
//   - run.requested — создан PENDING run (API, scheduler)
//   - run.cancel    — запрос на остановку run
//   - run.completed — run завершён, итог и человеко-минуты
//
// Exchanges:
//   - autonet.runs    — запросы и итоги runs (direct)
//   - autonet.control — команды всем orchestrator'ам (fanout)
//   - autonet.dlq     — dead letter queue
package mq
