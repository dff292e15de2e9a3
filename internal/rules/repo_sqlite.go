package rules

import (
	"database/sql"
	"fmt"
)

// SQLiteRepository normalizes the rule document into one row per rule
// (and per correction) on a shared database handle. Save replaces the
// whole document transactionally, preserving the repository contract.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			domain TEXT NOT NULL,
			position INTEGER NOT NULL,
			text TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			created_at TEXT NOT NULL,
			used_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (domain, position)
		)`,
		`CREATE TABLE IF NOT EXISTS corrections (
			position INTEGER PRIMARY KEY,
			user_msg TEXT NOT NULL,
			wrong TEXT NOT NULL,
			correction TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("init rules schema: %w", err)
		}
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Load() (*Document, error) {
	doc := emptyDocument()

	rows, err := r.db.Query(`SELECT domain, text, category, created_at, used_count
		FROM rules ORDER BY domain, position`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var domain string
		var rule Rule
		if err := rows.Scan(&domain, &rule.Text, &rule.Category, &rule.CreatedAt, &rule.UsedCount); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		doc.Rules[domain] = append(doc.Rules[domain], rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	crows, err := r.db.Query(`SELECT user_msg, wrong, correction, created_at
		FROM corrections ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var c Correction
		if err := crows.Scan(&c.UserMsg, &c.Wrong, &c.Correction, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		doc.Corrections = append(doc.Corrections, c)
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corrections: %w", err)
	}

	return doc, nil
}

func (r *SQLiteRepository) Save(doc *Document) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rules`); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM corrections`); err != nil {
		return fmt.Errorf("clear corrections: %w", err)
	}

	for domain, list := range doc.Rules {
		for i, rule := range list {
			if _, err := tx.Exec(
				`INSERT INTO rules (domain, position, text, category, created_at, used_count)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				domain, i, rule.Text, rule.Category, rule.CreatedAt, rule.UsedCount,
			); err != nil {
				return fmt.Errorf("insert rule: %w", err)
			}
		}
	}
	for i, c := range doc.Corrections {
		if _, err := tx.Exec(
			`INSERT INTO corrections (position, user_msg, wrong, correction, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			i, c.UserMsg, c.Wrong, c.Correction, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert correction: %w", err)
		}
	}

	return tx.Commit()
}
