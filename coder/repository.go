package coder

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound      = errors.New("coder: not found")
	ErrAlreadyRated  = errors.New("coder: project already rated for this coder")
	errMissingCoder  = errors.New("coder: missing coder id")
	errMissingRating = errors.New("coder: rating mutator returned no record")
)

// RatingFunc computes the coder's next state and the audit record from the
// locked current state.
type RatingFunc func(current Coder) (Coder, ProjectRating, error)

type Repository interface {
	Get(ctx context.Context, userID string) (Coder, error)
	List(ctx context.Context, limit int) ([]Coder, error)
	// ApplyRating creates the coder when absent, runs fn against the locked
	// row and stores the result together with the rating, or nothing.
	ApplyRating(ctx context.Context, coderID string, fn RatingFunc) (Coder, ProjectRating, error)
	ListRatings(ctx context.Context, coderID string, limit int) ([]ProjectRating, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const coderColumns = `user_id, COALESCE(active_order_id, ''), completed_orders, xp, level, banned, last_active, created_at, updated_at`

func scanCoder(row pgx.Row) (Coder, error) {
	var c Coder
	err := row.Scan(
		&c.UserID,
		&c.ActiveOrderID,
		&c.CompletedOrders,
		&c.XP,
		&c.Level,
		&c.Banned,
		&c.LastActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (r *PGRepository) Get(ctx context.Context, userID string) (Coder, error) {
	c, err := scanCoder(r.pool.QueryRow(ctx, `SELECT `+coderColumns+` FROM coders WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Coder{}, ErrNotFound
		}
		return Coder{}, fmt.Errorf("coder: get: %w", err)
	}
	return c, nil
}

func (r *PGRepository) List(ctx context.Context, limit int) ([]Coder, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+coderColumns+`
		FROM coders
		WHERE NOT banned
		ORDER BY level DESC, xp DESC, user_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("coder: list: %w", err)
	}
	defer rows.Close()

	out := make([]Coder, 0, limit)
	for rows.Next() {
		c, err := scanCoder(rows)
		if err != nil {
			return nil, fmt.Errorf("coder: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coder: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ApplyRating(ctx context.Context, coderID string, fn RatingFunc) (Coder, ProjectRating, error) {
	if coderID == "" {
		return Coder{}, ProjectRating{}, errMissingCoder
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Coder{}, ProjectRating{}, fmt.Errorf("coder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO coders (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, coderID); err != nil {
		return Coder{}, ProjectRating{}, fmt.Errorf("coder: ensure row: %w", err)
	}

	current, err := scanCoder(tx.QueryRow(ctx, `SELECT `+coderColumns+` FROM coders WHERE user_id = $1 FOR UPDATE`, coderID))
	if err != nil {
		return Coder{}, ProjectRating{}, fmt.Errorf("coder: lock: %w", err)
	}

	next, rating, err := fn(current)
	if err != nil {
		return Coder{}, ProjectRating{}, err
	}
	if rating.ProjectID == "" {
		return Coder{}, ProjectRating{}, errMissingRating
	}

	// active_order_id belongs to the order lifecycle and is never written here.
	const updateSQL = `
		UPDATE coders
		SET completed_orders = $2,
		    xp = $3,
		    level = $4,
		    banned = $5,
		    last_active = $6,
		    updated_at = $6
		WHERE user_id = $1
		RETURNING ` + coderColumns
	saved, err := scanCoder(tx.QueryRow(ctx, updateSQL,
		coderID,
		next.CompletedOrders,
		next.XP,
		next.Level,
		next.Banned,
		next.LastActive,
	))
	if err != nil {
		return Coder{}, ProjectRating{}, fmt.Errorf("coder: update: %w", err)
	}

	const insertSQL = `
		INSERT INTO project_ratings (id, project_id, coder_id, admin_id, rating, xp_earned, level_before, level_after, status, rated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.Exec(ctx, insertSQL,
		rating.ID,
		rating.ProjectID,
		coderID,
		rating.AdminID,
		rating.Rating,
		rating.XPEarned,
		rating.LevelBefore,
		rating.LevelAfter,
		string(rating.Status),
		rating.RatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Coder{}, ProjectRating{}, ErrAlreadyRated
		}
		return Coder{}, ProjectRating{}, fmt.Errorf("coder: insert rating: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Coder{}, ProjectRating{}, fmt.Errorf("coder: commit tx: %w", err)
	}
	rating.CoderID = coderID
	return saved, rating, nil
}

func (r *PGRepository) ListRatings(ctx context.Context, coderID string, limit int) ([]ProjectRating, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `
		SELECT id, project_id, coder_id, admin_id, rating, xp_earned, level_before, level_after, status, rated_at
		FROM project_ratings
		WHERE coder_id = $1
		ORDER BY rated_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, coderID, limit)
	if err != nil {
		return nil, fmt.Errorf("coder: list ratings: %w", err)
	}
	defer rows.Close()

	out := make([]ProjectRating, 0, 8)
	for rows.Next() {
		var pr ProjectRating
		var status string
		if err := rows.Scan(&pr.ID, &pr.ProjectID, &pr.CoderID, &pr.AdminID, &pr.Rating, &pr.XPEarned,
			&pr.LevelBefore, &pr.LevelAfter, &status, &pr.RatedAt); err != nil {
			return nil, fmt.Errorf("coder: scan rating: %w", err)
		}
		pr.Status = Outcome(status)
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coder: iterate ratings: %w", err)
	}
	return out, nil
}
