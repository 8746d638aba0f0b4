package sqlblob

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"

	"github.com/tendant/content-store/pkg/contentstore"
)

// generic runs portable SQL through database/sql. Statements are written
// with ? placeholders and rebound for the connection's driver.
type generic struct {
	db    *sqlx.DB
	table string
}

// NewGeneric creates a loader over any database/sql database whose driver
// reports generated keys through LastInsertId (SQLite, MySQL, ...).
func NewGeneric(db *sqlx.DB, opts ...Option) (*Loader, error) {
	if db == nil {
		return nil, contentstore.ConfigError("database is required")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return newLoader(&generic{db: db, table: o.table}, o), nil
}

func (g *generic) name() string {
	return "sql"
}

func (g *generic) q(query string) string {
	return g.db.Rebind(fmt.Sprintf(query, g.table))
}

func (g *generic) exists(ctx context.Context, id int64) (bool, error) {
	return countRows(ctx, g.db, g.q("SELECT COUNT(id) FROM %s WHERE id = ?"), id)
}

func countRows(ctx context.Context, q sqlx.QueryerContext, query string, id int64) (bool, error) {
	var count int64
	err := sqlx.GetContext(ctx, q, &count, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("count blob rows: %w", err)
	}
	return count == 1, nil
}

func (g *generic) length(ctx context.Context, id int64) (int64, error) {
	var n sql.NullInt64
	err := g.db.GetContext(ctx, &n, g.q("SELECT LENGTH(content) FROM %s WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, contentstore.ErrNotFound
	} else if err != nil {
		return 0, fmt.Errorf("read blob length: %w", err)
	}
	return n.Int64, nil
}

// open reads the whole column; database/sql hands BLOB values back as a
// single byte slice.
func (g *generic) open(ctx context.Context, id int64) (io.ReadCloser, error) {
	var content []byte
	err := g.db.GetContext(ctx, &content, g.q("SELECT content FROM %s WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contentstore.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (g *generic) remove(ctx context.Context, id int64) error {
	if _, err := g.db.ExecContext(ctx, g.q("DELETE FROM %s WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// write drains the body while the caller is still writing, then runs the
// existence check and the update or insert in one transaction. The body is
// bound as a single parameter.
func (g *generic) write(ctx context.Context, id int64, hasID bool, body io.Reader) (int64, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return 0, err
	}
	content := buf.Bytes()
	if content == nil {
		content = []byte{}
	}

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin blob transaction: %w", err)
	}
	defer tx.Rollback()

	exists := false
	if hasID {
		if exists, err = countRows(ctx, tx, g.q("SELECT COUNT(id) FROM %s WHERE id = ?"), id); err != nil {
			return 0, err
		}
	}

	if exists {
		res, err := tx.ExecContext(ctx, g.q("UPDATE %s SET content = ? WHERE id = ?"), content, id)
		if err != nil {
			return 0, fmt.Errorf("update blob: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n != 1 {
			return 0, fmt.Errorf("update blob %d: %d rows affected", id, n)
		}
	} else {
		res, err := tx.ExecContext(ctx, g.q("INSERT INTO %s (content) VALUES (?)"), content)
		if err != nil {
			return 0, fmt.Errorf("insert blob: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("read generated blob id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit blob: %w", err)
	}
	return id, nil
}
