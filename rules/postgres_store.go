package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL. Conditions and
// actions are stored as JSONB alongside the scalar columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(workspaceID string, rule *Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule ID must be set before save")
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	now := time.Now()
	err = s.db.QueryRow(`
		INSERT INTO rules (id, workspace_id, name, enabled, trigger_event, combinator, conditions, actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (workspace_id, id) DO UPDATE
		SET name = EXCLUDED.name,
		    enabled = EXCLUDED.enabled,
		    trigger_event = EXCLUDED.trigger_event,
		    combinator = EXCLUDED.combinator,
		    conditions = EXCLUDED.conditions,
		    actions = EXCLUDED.actions,
		    updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`, rule.ID, workspaceID, rule.Name, rule.Enabled, rule.TriggerEvent,
		string(rule.Combinator), conditions, actions, now).
		Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(workspaceID, ruleID string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT id, name, enabled, trigger_event, combinator, conditions, actions, created_at, updated_at
		FROM rules
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, ruleID)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s in workspace %s: %w", ruleID, workspaceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresStore) GetAll(workspaceID string) ([]*Rule, error) {
	return s.query(`
		SELECT id, name, enabled, trigger_event, combinator, conditions, actions, created_at, updated_at
		FROM rules
		WHERE workspace_id = $1
		ORDER BY created_at ASC
	`, workspaceID)
}

func (s *PostgresStore) GetEnabled(workspaceID string) ([]*Rule, error) {
	return s.query(`
		SELECT id, name, enabled, trigger_event, combinator, conditions, actions, created_at, updated_at
		FROM rules
		WHERE workspace_id = $1 AND enabled = true
		ORDER BY created_at ASC
	`, workspaceID)
}

func (s *PostgresStore) Delete(workspaceID, ruleID string) (bool, error) {
	result, err := s.db.Exec(`
		DELETE FROM rules
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, ruleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) query(query, workspaceID string) ([]*Rule, error) {
	rows, err := s.db.Query(query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var combinator string
	var conditions, actions []byte
	if err := row.Scan(&r.ID, &r.Name, &r.Enabled, &r.TriggerEvent, &combinator,
		&conditions, &actions, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Combinator = Combinator(combinator)
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
			return nil, fmt.Errorf("invalid conditions JSON for rule %s: %w", r.ID, err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &r.Actions); err != nil {
			return nil, fmt.Errorf("invalid actions JSON for rule %s: %w", r.ID, err)
		}
	}
	return &r, nil
}
