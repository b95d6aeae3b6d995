// Package scheduler превращает наступившие schedules в PENDING runs.
//
// Один вызов Tick забирает schedules с next_due_at <= now, создаёт для
// каждого run на последней версии графа (с run_method, targets и payload
// schedule) и переносит next_due_at на следующее срабатывание по cron
// или интервалу. Пропущенные за время простоя срабатывания не
// догоняются: создаётся один run, следующий срок считается от now.
//
// Tick должен вызывать только один экземпляр. cmd/autonet-scheduler
// держит для этого pg advisory lock и вызывает Tick из robfig/cron.
package scheduler
