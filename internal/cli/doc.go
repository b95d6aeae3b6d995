// Package cli реализует инструмент командной строки Autonet.
//
// # Обзор
//
// CLI работает в двух режимах:
//   - удалённо: graph, run и schedule ходят в Autonet API по HTTP
//     и не импортируют внутренние пакеты сервера;
//   - локально: validate и exec собирают графы из файла определения
//     и обходят их тем же движком, что и orchestrator, без БД и брокера.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Autonet API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	graphs, err := client.ListGraphs()
//
// ## ExecuteLocal
//
// Обход графа из файла: устройства берутся из инвентаря определения,
// прогресс копится в памяти, Ctrl-C останавливает run с результатом
// "Aborted".
//
//	autonet exec -f graphs.yaml -g upgrade --target r1 --payload vlan=10
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: autonet run list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - graph: list, show, upload, delete, versions, export
//   - run: list, start, show, cancel, restart, jobs
//   - schedule: list, create, show, update, delete, enable, disable
//   - validate, exec — локальные команды
//
// Каждая группа создаётся через фабричную функцию (NewGraphCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
