package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/entrystore/internal/db"
)

const (
	getEntrySQL    = `SELECT id, data, user_id, created_at FROM entries WHERE id = ?`
	searchEntrySQL = `SELECT id, data, user_id, created_at FROM entries
WHERE user_id = ? AND data LIKE ? ESCAPE '\'
ORDER BY id ASC
LIMIT ?`
	insertEntrySQL = `INSERT INTO entries (data, user_id, created_at) VALUES (?, ?, ?)`
)

// queries runs entry statements on one transactional handle.
type queries struct {
	tx    db.DBTX
	store *db.Store
}

func newQueries(store *db.Store, tx db.DBTX) *queries {
	return &queries{tx: tx, store: store}
}

// getEntry looks an entry up by id. A missing row is reported through the
// boolean, not as an error.
func (q *queries) getEntry(ctx context.Context, id int64) (*Entry, bool, error) {
	row := q.tx.QueryRowContext(ctx, q.store.Rebind(getEntrySQL), id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get entry %d: %w", id, err)
	}
	return e, true, nil
}

// searchEntries returns up to limit entries of userID whose data contains
// folded as a literal substring.
func (q *queries) searchEntries(ctx context.Context, userID, folded string, limit int) ([]Entry, error) {
	pattern := "%" + escapeLike(folded) + "%"
	rows, err := q.tx.QueryContext(ctx, q.store.Rebind(searchEntrySQL), userID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return out, nil
}

// insertEntry stores e and sets its assigned id.
func (q *queries) insertEntry(ctx context.Context, e *Entry) error {
	createdAt := e.CreatedAt.UnixMicro()

	if q.store.Dialect() == db.DialectPostgres {
		query := q.store.Rebind(insertEntrySQL + " RETURNING id")
		if err := q.tx.QueryRowContext(ctx, query, e.Data, e.UserID, createdAt).Scan(&e.ID); err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
		return nil
	}

	res, err := q.tx.ExecContext(ctx, insertEntrySQL, e.Data, e.UserID, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted entry id: %w", err)
	}
	e.ID = id
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e         Entry
		createdAt int64
	)
	if err := row.Scan(&e.ID, &e.Data, &e.UserID, &createdAt); err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMicro(createdAt).UTC()
	return &e, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern with ESCAPE '\'.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
