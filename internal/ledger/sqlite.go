// ABOUTME: SQLite implementation of the permission ledger using modernc.org/sqlite
// ABOUTME: Local mirror/standalone backend with automatic schema creation

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openkeys/keygate/internal/method"

	_ "modernc.org/sqlite"
)

// SQLiteLedger implements Store using SQLite. It serves as the local
// mirror of the authoritative ledger for standalone deployments and
// admin tooling.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLedger opens (or creates) a SQLite ledger at the given path.
// Parent directories are created if needed.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	logger := slog.Default().With("component", "ledger")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	l := &SQLiteLedger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return l, nil
}

// createSchema creates the ledger tables if they don't exist.
func (l *SQLiteLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS auth_methods (
			pkp_id TEXT NOT NULL,
			method_type INTEGER NOT NULL,
			method_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (pkp_id, method_type, method_id)
		);

		CREATE TABLE IF NOT EXISTS scopes (
			pkp_id TEXT NOT NULL,
			method_type INTEGER NOT NULL,
			method_id TEXT NOT NULL,
			scope INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (pkp_id, method_type, method_id, scope),
			FOREIGN KEY (pkp_id, method_type, method_id)
				REFERENCES auth_methods(pkp_id, method_type, method_id)
				ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_auth_methods_pkp ON auth_methods(pkp_id);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// GetScopes returns the scope set registered for the method. Unregistered
// methods return an empty set, not an error.
func (l *SQLiteLedger) GetScopes(ctx context.Context, pkpID string, m method.AuthMethod) (method.ScopeSet, error) {
	query := `
		SELECT scope FROM scopes
		WHERE pkp_id = ? AND method_type = ? AND method_id = ?
		ORDER BY scope
	`

	rows, err := l.db.QueryContext(ctx, query, pkpID, uint32(m.Type), m.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying scopes: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	set := method.NewScopeSet()
	for rows.Next() {
		var s uint32
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning scope: %w", err)
		}
		set.Add(method.Scope(s))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scopes: %w", err)
	}
	return set, nil
}

// IsPermitted reports whether the method is registered for the PKP.
func (l *SQLiteLedger) IsPermitted(ctx context.Context, pkpID string, m method.AuthMethod) (bool, error) {
	query := `
		SELECT COUNT(*) FROM auth_methods
		WHERE pkp_id = ? AND method_type = ? AND method_id = ?
	`

	var count int
	if err := l.db.QueryRowContext(ctx, query, pkpID, uint32(m.Type), m.ID).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: checking permission: %v", ErrUnavailable, err)
	}
	return count > 0, nil
}

// AddAuthMethod registers the method, replacing any existing scope set
// for the pair in one transaction.
func (l *SQLiteLedger) AddAuthMethod(ctx context.Context, pkpID string, m method.AuthMethod, scopes method.ScopeSet) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_methods (pkp_id, method_type, method_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (pkp_id, method_type, method_id) DO UPDATE SET updated_at = excluded.updated_at
	`, pkpID, uint32(m.Type), m.ID, now, now)
	if err != nil {
		return fmt.Errorf("inserting auth method: %w", err)
	}

	// Scope changes replace the set, never mutate in place.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM scopes WHERE pkp_id = ? AND method_type = ? AND method_id = ?
	`, pkpID, uint32(m.Type), m.ID)
	if err != nil {
		return fmt.Errorf("clearing scopes: %w", err)
	}

	for _, s := range scopes.Slice() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scopes (pkp_id, method_type, method_id, scope, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, pkpID, uint32(m.Type), m.ID, uint32(s), now)
		if err != nil {
			return fmt.Errorf("inserting scope: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing grant: %w", err)
	}

	l.logger.Debug("added auth method", "pkp_id", pkpID, "method_type", m.Type.String(), "scopes", scopes.String())
	return nil
}

// RemoveAuthMethod deletes the method and its scopes. Idempotent.
func (l *SQLiteLedger) RemoveAuthMethod(ctx context.Context, pkpID string, m method.AuthMethod) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM auth_methods WHERE pkp_id = ? AND method_type = ? AND method_id = ?
	`, pkpID, uint32(m.Type), m.ID)
	if err != nil {
		return fmt.Errorf("removing auth method: %w", err)
	}

	l.logger.Debug("removed auth method", "pkp_id", pkpID, "method_type", m.Type.String())
	return nil
}

// AddScope grants one scope, registering the method if needed. Adding an
// existing scope succeeds silently.
func (l *SQLiteLedger) AddScope(ctx context.Context, pkpID string, m method.AuthMethod, scope method.Scope) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO auth_methods (pkp_id, method_type, method_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, pkpID, uint32(m.Type), m.ID, now, now)
	if err != nil {
		return fmt.Errorf("registering auth method: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scopes (pkp_id, method_type, method_id, scope, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, pkpID, uint32(m.Type), m.ID, uint32(scope), now)
	if err != nil {
		return fmt.Errorf("adding scope: %w", err)
	}

	l.logger.Debug("added scope", "pkp_id", pkpID, "method_type", m.Type.String(), "scope", scope.String())
	return nil
}

// RemoveScope revokes one scope. Removing an absent scope succeeds
// silently; the method stays registered.
func (l *SQLiteLedger) RemoveScope(ctx context.Context, pkpID string, m method.AuthMethod, scope method.Scope) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM scopes WHERE pkp_id = ? AND method_type = ? AND method_id = ? AND scope = ?
	`, pkpID, uint32(m.Type), m.ID, uint32(scope))
	if err != nil {
		return fmt.Errorf("removing scope: %w", err)
	}

	l.logger.Debug("removed scope", "pkp_id", pkpID, "method_type", m.Type.String(), "scope", scope.String())
	return nil
}

// ListGrants returns all registrations for a PKP, for admin listings.
func (l *SQLiteLedger) ListGrants(ctx context.Context, pkpID string) ([]*Grant, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT method_type, method_id, created_at, updated_at FROM auth_methods
		WHERE pkp_id = ? ORDER BY method_type, method_id
	`, pkpID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing grants: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		var (
			typ                  uint32
			id, created, updated string
		)
		if err := rows.Scan(&typ, &id, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		g := &Grant{PKPID: pkpID, Method: method.AuthMethod{Type: method.Type(typ), ID: id}}
		g.CreatedAt, _ = time.Parse(time.RFC3339, created)
		g.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}

	for _, g := range grants {
		scopes, err := l.GetScopes(ctx, pkpID, g.Method)
		if err != nil {
			return nil, err
		}
		g.Scopes = scopes
	}
	return grants, nil
}

// Close releases the database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
