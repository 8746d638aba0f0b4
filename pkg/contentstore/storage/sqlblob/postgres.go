package sqlblob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/content-store/internal/spool"
	"github.com/tendant/content-store/pkg/contentstore"
)

// DBTX is the subset of pgx shared by pools, connections and transactions
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
}

type rowQuerier interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}

// postgres streams content into a bytea column chunk by chunk and reads it
// back with substring into a spool file.
type postgres struct {
	db        DBTX
	table     string
	chunkSize int
	spoolDir  string
}

// NewPostgres creates a loader over a PostgreSQL pool
func NewPostgres(pool *pgxpool.Pool, opts ...Option) (*Loader, error) {
	if pool == nil {
		return nil, contentstore.ConfigError("postgres pool is required")
	}
	return newPostgres(pool, opts...)
}

func newPostgres(db DBTX, opts ...Option) (*Loader, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return newLoader(&postgres{
		db:        db,
		table:     o.table,
		chunkSize: o.chunkSize,
		spoolDir:  o.spoolDir,
	}, o), nil
}

func (p *postgres) name() string {
	return "postgres"
}

func (p *postgres) q(query string) string {
	return fmt.Sprintf(query, p.table)
}

func (p *postgres) exists(ctx context.Context, id int64) (bool, error) {
	return p.count(ctx, p.db, id)
}

func (p *postgres) count(ctx context.Context, q rowQuerier, id int64) (bool, error) {
	var count int64
	err := q.QueryRow(ctx, p.q("SELECT COUNT(id) FROM %s WHERE id = $1"), id).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, handlePostgresError("count blob rows", err)
	}
	return count == 1, nil
}

func (p *postgres) length(ctx context.Context, id int64) (int64, error) {
	return p.lengthIn(ctx, p.db, id)
}

func (p *postgres) lengthIn(ctx context.Context, q rowQuerier, id int64) (int64, error) {
	var n *int64
	err := q.QueryRow(ctx, p.q("SELECT octet_length(content) FROM %s WHERE id = $1"), id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, contentstore.ErrNotFound
	} else if err != nil {
		return 0, handlePostgresError("read blob length", err)
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}

// open copies the column into a spool file inside a repeatable-read
// snapshot and releases the connection before returning.
func (p *postgres) open(ctx context.Context, id int64) (io.ReadCloser, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, handlePostgresError("begin blob read", err)
	}
	defer tx.Rollback(ctx)

	size, err := p.lengthIn(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	sp, err := spool.New(p.spoolDir, "contentstore-pg-*")
	if err != nil {
		return nil, err
	}

	var chunk []byte
	for offset := int64(0); offset < size; offset += int64(p.chunkSize) {
		// substring positions are 1-based
		err := tx.QueryRow(ctx, p.q("SELECT substring(content FROM $2 FOR $3) FROM %s WHERE id = $1"),
			id, offset+1, p.chunkSize).Scan(&chunk)
		if err != nil {
			sp.Discard()
			return nil, handlePostgresError("read blob chunk", err)
		}
		if _, err := sp.Write(chunk); err != nil {
			sp.Discard()
			return nil, fmt.Errorf("spool blob: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		sp.Discard()
		return nil, handlePostgresError("finish blob read", err)
	}
	return sp.Reader()
}

func (p *postgres) remove(ctx context.Context, id int64) error {
	if _, err := p.db.Exec(ctx, p.q("DELETE FROM %s WHERE id = $1"), id); err != nil {
		return handlePostgresError("delete blob", err)
	}
	return nil
}

// write resets or inserts the row with an empty value and appends the body
// in chunks as it arrives, all in one transaction.
func (p *postgres) write(ctx context.Context, id int64, hasID bool, body io.Reader) (int64, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, handlePostgresError("begin blob write", err)
	}
	defer tx.Rollback(ctx)

	exists := false
	if hasID {
		if exists, err = p.count(ctx, tx, id); err != nil {
			return 0, err
		}
	}

	if exists {
		tag, err := tx.Exec(ctx, p.q("UPDATE %s SET content = ''::bytea WHERE id = $1"), id)
		if err != nil {
			return 0, handlePostgresError("reset blob", err)
		}
		if tag.RowsAffected() != 1 {
			return 0, fmt.Errorf("reset blob %d: %d rows affected", id, tag.RowsAffected())
		}
	} else {
		err := tx.QueryRow(ctx, p.q("INSERT INTO %s (content) VALUES (''::bytea) RETURNING id")).Scan(&id)
		if err != nil {
			return 0, handlePostgresError("insert blob", err)
		}
	}

	buf := make([]byte, p.chunkSize)
	for {
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := tx.Exec(ctx, p.q("UPDATE %s SET content = content || $2 WHERE id = $1"), id, buf[:n]); err != nil {
				return 0, handlePostgresError("append blob chunk", err)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return 0, rerr
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, handlePostgresError("commit blob", err)
	}
	return id, nil
}

// handlePostgresError maps server errors that point at a setup problem onto
// configuration errors
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return contentstore.ConfigError("%s: blob table does not exist: %s", operation, pgErr.Message)
		case "42703": // undefined_column
			return contentstore.ConfigError("%s: %s", operation, pgErr.Message)
		case "42501": // insufficient_privilege
			return fmt.Errorf("%s: %w: %s", operation, contentstore.ErrAccess, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", operation, err)
}
