package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sasha-gershtein/Sodia/cmd/internal/storage"
)

// withPgTx runs fn inside a READ COMMITTED transaction and commits when fn
// returns nil.
func withPgTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func appendUpdateTx(
	ctx context.Context,
	tx pgx.Tx,
	sessionsTable, updatesTable string,
	sessionID, message string,
	now time.Time,
) (UpdateRecord, error) {
	const op = "session.AppendUpdate"

	var seq int64
	err := tx.QueryRow(ctx, `
		UPDATE `+sessionsTable+`
		SET next_update_seq = next_update_seq + 1
		WHERE id = $1
		RETURNING next_update_seq - 1
	`, sessionID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return UpdateRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return UpdateRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO `+updatesTable+` (session_id, seq, message, created_at)
		VALUES ($1, $2, $3, $4)
	`, sessionID, seq, message, now)
	if err != nil {
		if c, ok := storage.PgUniqueViolation(err); ok {
			return UpdateRecord{}, &ConflictError{Op: op, Constraint: c}
		}
		if storage.PgForeignKeyViolation(err) {
			return UpdateRecord{}, ErrSessionNotFound
		}
		return UpdateRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return UpdateRecord{
		SessionID: sessionID,
		Seq:       seq,
		Message:   message,
		CreatedAt: now,
	}, nil
}
