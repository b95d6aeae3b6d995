// Package repo хранит графы, run'ы и расписания в PostgreSQL (pgx).
//
// Схема — migrations/001_init.sql. Сложные значения (определения графов,
// устройства, payload, результаты) лежат в JSONB.
package repo
