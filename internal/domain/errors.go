package domain

import "errors"

// Ошибки построения графа.
var (
	// ErrDuplicateEdge — ребро (subtype, source, destination, graph) уже существует.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrDuplicateJob — в графе уже есть job с таким именем.
	ErrDuplicateJob = errors.New("duplicate job")

	// ErrUnknownJob — ребро ссылается на job, которого нет в графе.
	ErrUnknownJob = errors.New("unknown job")

	// ErrInvalidSubtype — тип ребра не success и не failure.
	ErrInvalidSubtype = errors.New("invalid edge subtype")
)
