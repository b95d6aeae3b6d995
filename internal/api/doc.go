// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler и интерфейсы хранилищ
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - graph_handler.go    — загрузка и проверка графов, версии
//   - run_handler.go      — запуск, отмена и перезапуск runs
//   - schedule_handler.go — расписания
//
// Загрузка графа проверяет определение целиком (в том числе
// дублирующиеся рёбра) и сохраняет новую неизменяемую версию.
package api
