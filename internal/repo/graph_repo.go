package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/autonet/internal/domain"
)

// GraphRepo — репозиторий графов и их версий.
//
// Версия хранит самодостаточное определение в JSONB; run ссылается
// на граф по имени и номеру версии.
type GraphRepo struct {
	pool *pgxpool.Pool
}

// NewGraphRepo создаёт новый GraphRepo.
func NewGraphRepo(pool *pgxpool.Pool) *GraphRepo {
	return &GraphRepo{pool: pool}
}

// Save сохраняет новую версию графа name (создаёт граф при первом сохранении).
// Номер версии автоматически инкрементируется.
func (r *GraphRepo) Save(ctx context.Context, name, description string, def domain.Definition) (*domain.GraphVersion, error) {
	defJSON, err := marshalJSON(def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}

	var gv domain.GraphVersion
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO graphs (name, description, created_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		`, name, nullString(description))
		if err != nil {
			return fmt.Errorf("upsert graph: %w", err)
		}

		// Блокируем строку графа, чтобы параллельные Save не взяли один номер
		if _, err := tx.Exec(ctx, `SELECT name FROM graphs WHERE name = $1 FOR UPDATE`, name); err != nil {
			return fmt.Errorf("lock graph: %w", err)
		}

		var next int
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1
			FROM graph_versions
			WHERE graph_name = $1
		`, name).Scan(&next)
		if err != nil {
			return fmt.Errorf("next version: %w", err)
		}

		return tx.QueryRow(ctx, `
			INSERT INTO graph_versions (graph_name, version, definition, created_at)
			VALUES ($1, $2, $3, NOW())
			RETURNING graph_name, version, created_at
		`, name, next, defJSON).Scan(&gv.GraphName, &gv.Version, &gv.CreatedAt)
	})
	if err != nil {
		return nil, err
	}

	gv.Definition = def
	return &gv, nil
}

// Get возвращает граф по имени.
func (r *GraphRepo) Get(ctx context.Context, name string) (*domain.StoredGraph, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT g.name, g.description, COALESCE(MAX(v.version), 0), g.created_at
		FROM graphs g LEFT JOIN graph_versions v ON v.graph_name = g.name
		WHERE g.name = $1
		GROUP BY g.name
	`, name)
	return scanStoredGraph(row)
}

// List возвращает все графы.
func (r *GraphRepo) List(ctx context.Context) ([]domain.StoredGraph, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.name, g.description, COALESCE(MAX(v.version), 0), g.created_at
		FROM graphs g LEFT JOIN graph_versions v ON v.graph_name = g.name
		GROUP BY g.name
		ORDER BY g.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer rows.Close()

	var graphs []domain.StoredGraph
	for rows.Next() {
		g, err := scanStoredGraph(rows)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, *g)
	}
	return graphs, rows.Err()
}

// GetVersion возвращает версию графа; version <= 0 означает последнюю.
func (r *GraphRepo) GetVersion(ctx context.Context, name string, version int) (*domain.GraphVersion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT graph_name, version, definition, created_at
		FROM graph_versions
		WHERE graph_name = $1 AND ($2 <= 0 OR version = $2)
		ORDER BY version DESC
		LIMIT 1
	`, name, version)
	return scanGraphVersion(row)
}

// ListVersions возвращает версии графа, начиная с последней.
func (r *GraphRepo) ListVersions(ctx context.Context, name string) ([]domain.GraphVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT graph_name, version, definition, created_at
		FROM graph_versions
		WHERE graph_name = $1
		ORDER BY version DESC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("list graph versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.GraphVersion
	for rows.Next() {
		gv, err := scanGraphVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *gv)
	}
	return versions, rows.Err()
}

// Delete удаляет граф со всеми версиями.
func (r *GraphRepo) Delete(ctx context.Context, name string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM graphs WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete graph: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStoredGraph(row scanner) (*domain.StoredGraph, error) {
	var g domain.StoredGraph
	var description *string
	err := row.Scan(&g.Name, &description, &g.LatestVersion, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan graph: %w", err)
	}
	g.Description = deref(description)
	return &g, nil
}

func scanGraphVersion(row scanner) (*domain.GraphVersion, error) {
	var gv domain.GraphVersion
	var defJSON []byte
	err := row.Scan(&gv.GraphName, &gv.Version, &defJSON, &gv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan graph version: %w", err)
	}
	if err := unmarshalJSON(defJSON, &gv.Definition, "definition"); err != nil {
		return nil, err
	}
	return &gv, nil
}
