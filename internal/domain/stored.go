package domain

import "time"

// StoredGraph — граф в хранилище.
type StoredGraph struct {
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	LatestVersion int       `json:"latest_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// GraphVersion — неизменяемая версия графа.
//
// Definition самодостаточно: кроме самого графа в нём лежат вложенные
// графы, общие job'ы и устройства, на которые граф ссылается.
type GraphVersion struct {
	GraphName  string     `json:"graph_name"`
	Version    int        `json:"version"`
	Definition Definition `json:"definition"`
	CreatedAt  time.Time  `json:"created_at"`
}
