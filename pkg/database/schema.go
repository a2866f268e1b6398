package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator checks that the live database matches what the store expects.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a validator for db.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check.
func (v *SchemaValidator) Validate(ctx context.Context) error {
	if err := v.ValidateTablesExist(ctx); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(ctx); err != nil {
		return err
	}
	return v.ValidateIndexes(ctx)
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	for _, table := range []string{"messages", "schema_migrations"} {
		exists, err := v.exists(ctx, "table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies the messages columns and their declared types.
func (v *SchemaValidator) ValidateTableStructure(ctx context.Context) error {
	messageColumns := map[string]string{
		"seq":       "INTEGER",
		"id":        "TEXT",
		"room":      "TEXT",
		"section":   "TEXT",
		"username":  "TEXT",
		"body":      "TEXT",
		"type":      "TEXT",
		"media_url": "TEXT",
		"deleted":   "INTEGER",
		"user_city": "TEXT",
		"timestamp": "INTEGER",
	}

	if err := v.validateColumns(ctx, "messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies the history lookup index exists.
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	const index = "idx_messages_room_section_seq"
	exists, err := v.exists(ctx, "index", index)
	if err != nil {
		return fmt.Errorf("error checking index %s: %w", index, err)
	}
	if !exists {
		return fmt.Errorf("required index %s does not exist", index)
	}
	return nil
}

func (v *SchemaValidator) exists(ctx context.Context, kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(ctx context.Context, table string, expected map[string]string) error {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		found[name] = strings.ToUpper(colType)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, want := range expected {
		got, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s missing", column)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, want %s", column, got, want)
		}
	}
	return nil
}
