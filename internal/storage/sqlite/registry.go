package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/switchboardhq/switchboard/internal/core"
)

// EnsureProject creates the project row on first use. Repeat calls return
// the existing row untouched.
func (s *Store) EnsureProject(ctx context.Context, name string) (core.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Project{}, core.Invalidf("project", "name required")
	}

	row := s.db.QueryRow(`SELECT id, name, created_at FROM projects WHERE name = ?`, name)
	p, err := scanProject(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.Project{}, err
	}

	p = core.Project{ID: uuid.NewString(), Name: name, CreatedAt: s.now()}
	_, err = s.db.Exec(
		`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		p.ID, p.Name, fmtTime(p.CreatedAt),
	)
	if err != nil {
		return core.Project{}, fmt.Errorf("insert project: %w", err)
	}
	// Re-read in case a racing caller won the insert.
	row = s.db.QueryRow(`SELECT id, name, created_at FROM projects WHERE name = ?`, name)
	return scanProject(row)
}

// EnsureAgent creates the (project, name) agent row on first use and bumps
// last_seen on every call.
func (s *Store) EnsureAgent(ctx context.Context, project, name string) (core.Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Agent{}, core.Invalidf("agent", "name required")
	}
	if _, err := s.EnsureProject(ctx, project); err != nil {
		return core.Agent{}, err
	}

	now := s.now()
	_, err := s.db.Exec(
		`INSERT INTO agents (id, project, name, created_at, last_seen)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project, name) DO UPDATE SET last_seen = excluded.last_seen`,
		uuid.NewString(), project, name, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return core.Agent{}, fmt.Errorf("upsert agent: %w", err)
	}

	row := s.db.QueryRow(
		`SELECT id, project, name, created_at, last_seen FROM agents
		 WHERE project = ? AND name = ?`, project, name,
	)
	return scanAgent(row)
}

func (s *Store) ListProjects(ctx context.Context) ([]core.Project, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM projects ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProject(row scanner) (core.Project, error) {
	var p core.Project
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Project{}, err
		}
		return core.Project{}, fmt.Errorf("scan project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func scanAgent(row scanner) (core.Agent, error) {
	var a core.Agent
	var createdAt, lastSeen string
	if err := row.Scan(&a.ID, &a.Project, &a.Name, &createdAt, &lastSeen); err != nil {
		return core.Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	a.LastSeen = parseTime(lastSeen)
	return a, nil
}

type scanner interface {
	Scan(dest ...any) error
}
