package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrDuplicateID       = errors.New("order: duplicate order id")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrCoderBusy         = errors.New("order: coder already has an active order")
	ErrForbidden         = errors.New("order: forbidden")
)

// CooldownError rejects a verification request made too soon after the
// previous one.
type CooldownError struct {
	Last      time.Time
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("order: verification requested too recently, %dh remaining", e.Hours())
}

// Hours is the remaining wait rounded up to whole hours.
func (e *CooldownError) Hours() int {
	h := e.Remaining / time.Hour
	if e.Remaining%time.Hour > 0 {
		h++
	}
	return int(h)
}

type AssignParams struct {
	OrderID string
	CoderID string
	At      time.Time
}

type FinishParams struct {
	OrderID string
	ActorID string
	From    []Status
	To      Status
	At      time.Time
	// Credit increments the released coder's completed order count.
	Credit bool
}

type Repository interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, filters Filters) ([]Order, error)
	// Assign moves an open order to the coder and claims the coder's active
	// slot. Both succeed or neither does.
	Assign(ctx context.Context, params AssignParams) (Order, error)
	// Finish moves the order out of one of params.From and frees the
	// assigned coder if their active slot still points at it.
	Finish(ctx context.Context, params FinishParams) (Order, error)
	SetAnnouncement(ctx context.Context, id, channelID, messageID string) error
	SetPrivateChannel(ctx context.Context, id, channelID string) error
	// TouchVerification stamps the verification time for the assignee unless
	// the previous stamp is later than notBefore.
	TouchVerification(ctx context.Context, id, coderID string, at, notBefore time.Time) (Order, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const orderColumns = `id, admin_id, client_name, compensation, description, status, COALESCE(assigned_to, ''),
	level, deadline, required_roles, COALESCE(tags, '{}'), COALESCE(message_id, ''), COALESCE(channel_id, ''),
	COALESCE(private_channel_id, ''), last_verification_request, created_at, assigned_at, completed_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
		roles  []byte
	)
	err := row.Scan(
		&o.ID,
		&o.AdminID,
		&o.ClientName,
		&o.Compensation,
		&o.Description,
		&status,
		&o.AssignedTo,
		&o.Level,
		&o.Deadline,
		&roles,
		&o.Tags,
		&o.MessageID,
		&o.ChannelID,
		&o.PrivateChannelID,
		&o.LastVerificationRequest,
		&o.CreatedAt,
		&o.AssignedAt,
		&o.CompletedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &o.RequiredRoles); err != nil {
			return Order{}, fmt.Errorf("order: decode required roles: %w", err)
		}
	}
	return o, nil
}

func (r *PGRepository) Create(ctx context.Context, o Order) (Order, error) {
	if o.ID == "" {
		return Order{}, fmt.Errorf("order: create missing id")
	}
	roles, err := json.Marshal(nonNilRoles(o.RequiredRoles))
	if err != nil {
		return Order{}, fmt.Errorf("order: encode required roles: %w", err)
	}
	tags := o.Tags
	if tags == nil {
		tags = []string{}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO orders (id, admin_id, client_name, compensation, description, status, level, deadline,
			required_roles, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'open', $6, $7, $8::jsonb, $9, $10, $10)
		RETURNING ` + orderColumns
	created, err := scanOrder(tx.QueryRow(ctx, query,
		o.ID,
		o.AdminID,
		o.ClientName,
		o.Compensation,
		o.Description,
		o.Level,
		o.Deadline,
		string(roles),
		tags,
		o.CreatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Order{}, ErrDuplicateID
		}
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}

	if err := appendEvent(ctx, tx, created.ID, "", StatusOpen, o.AdminID, created.CreatedAt); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit tx: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return o, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Order, error) {
	if filters.Limit <= 0 || filters.Limit > 500 {
		filters.Limit = 100
	}
	where := []string{"1=1"}
	args := []any{}

	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, string(filters.Status))
	}
	if filters.AssignedTo != "" {
		where = append(where, fmt.Sprintf("assigned_to=$%d", len(args)+1))
		args = append(args, filters.AssignedTo)
	}
	if filters.AdminID != "" {
		where = append(where, fmt.Sprintf("admin_id=$%d", len(args)+1))
		args = append(args, filters.AdminID)
	}
	if filters.DeadlineBefore != nil {
		where = append(where, fmt.Sprintf("deadline IS NOT NULL AND deadline <= $%d", len(args)+1))
		args = append(args, *filters.DeadlineBefore)
	}

	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC LIMIT %d`,
		orderColumns, strings.Join(where, " AND "), filters.Limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("order: query list: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, 16)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Assign(ctx context.Context, params AssignParams) (Order, error) {
	if params.OrderID == "" || params.CoderID == "" {
		return Order{}, fmt.Errorf("order: assign missing order or coder id")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE orders
		SET status = 'assigned', assigned_to = $2, assigned_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'open'
		RETURNING ` + orderColumns
	assigned, err := scanOrder(tx.QueryRow(ctx, query, params.OrderID, params.CoderID, params.At))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, r.diagnose(ctx, tx, params.OrderID)
		}
		return Order{}, fmt.Errorf("order: assign: %w", err)
	}

	const claimSQL = `
		INSERT INTO coders (user_id, active_order_id, last_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET active_order_id = EXCLUDED.active_order_id,
		    last_active = EXCLUDED.last_active,
		    updated_at = EXCLUDED.last_active
		WHERE coders.active_order_id IS NULL
	`
	tag, err := tx.Exec(ctx, claimSQL, params.CoderID, params.OrderID, params.At)
	if err != nil {
		return Order{}, fmt.Errorf("order: claim coder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Order{}, ErrCoderBusy
	}

	if err := appendEvent(ctx, tx, assigned.ID, StatusOpen, StatusAssigned, params.CoderID, params.At); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit assign: %w", err)
	}
	return assigned, nil
}

func (r *PGRepository) Finish(ctx context.Context, params FinishParams) (Order, error) {
	if len(params.From) == 0 {
		return Order{}, fmt.Errorf("order: finish missing source states")
	}
	for _, from := range params.From {
		if !CanTransition(from, params.To) {
			return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, params.To)
		}
	}
	from := make([]string, len(params.From))
	for i, s := range params.From {
		from[i] = string(s)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var previous string
	if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, params.OrderID).Scan(&previous); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: lock: %w", err)
	}

	query := `
		UPDATE orders
		SET status = $2,
		    completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END,
		    updated_at = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + orderColumns
	finished, err := scanOrder(tx.QueryRow(ctx, query, params.OrderID, string(params.To), params.At, from))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, previous)
		}
		return Order{}, fmt.Errorf("order: finish: %w", err)
	}

	if finished.AssignedTo != "" {
		credit := 0
		if params.Credit {
			credit = 1
		}
		const releaseSQL = `
			UPDATE coders
			SET active_order_id = NULL,
			    completed_orders = completed_orders + $3,
			    last_active = $4,
			    updated_at = $4
			WHERE user_id = $1 AND active_order_id = $2
		`
		if _, err := tx.Exec(ctx, releaseSQL, finished.AssignedTo, finished.ID, credit, params.At); err != nil {
			return Order{}, fmt.Errorf("order: release coder: %w", err)
		}
	}

	if err := appendEvent(ctx, tx, finished.ID, Status(previous), params.To, params.ActorID, params.At); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit finish: %w", err)
	}
	return finished, nil
}

func (r *PGRepository) SetAnnouncement(ctx context.Context, id, channelID, messageID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET channel_id = $2, message_id = $3, updated_at = now()
		WHERE id = $1 AND message_id IS NULL
	`, id, nullableString(channelID), nullableString(messageID))
	if err != nil {
		return fmt.Errorf("order: set announcement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("order: announcement already recorded for %s", id)
	}
	return nil
}

func (r *PGRepository) SetPrivateChannel(ctx context.Context, id, channelID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET private_channel_id = $2, updated_at = now() WHERE id = $1`,
		id, nullableString(channelID))
	if err != nil {
		return fmt.Errorf("order: set private channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) TouchVerification(ctx context.Context, id, coderID string, at, notBefore time.Time) (Order, error) {
	query := `
		UPDATE orders
		SET last_verification_request = $3, updated_at = $3
		WHERE id = $1
		  AND status = 'assigned'
		  AND assigned_to = $2
		  AND (last_verification_request IS NULL OR last_verification_request <= $4)
		RETURNING ` + orderColumns
	o, err := scanOrder(r.pool.QueryRow(ctx, query, id, coderID, at, notBefore))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order: touch verification: %w", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	return Order{}, verificationRejection(current, coderID)
}

// verificationRejection explains why a verification stamp was refused.
func verificationRejection(o Order, coderID string) error {
	switch {
	case o.Status != StatusAssigned:
		return fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	case o.AssignedTo != coderID:
		return ErrForbidden
	case o.LastVerificationRequest != nil:
		return &CooldownError{Last: *o.LastVerificationRequest}
	default:
		return fmt.Errorf("order: verification not recorded for %s", o.ID)
	}
}

func (r *PGRepository) diagnose(ctx context.Context, tx pgx.Tx, id string) error {
	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("order: diagnose: %w", err)
	}
	return fmt.Errorf("%w: order is %s", ErrInvalidTransition, status)
}

func appendEvent(ctx context.Context, tx pgx.Tx, orderID string, from, to Status, actorID string, at time.Time) error {
	payload := map[string]any{"to": string(to)}
	if from != "" {
		payload["from"] = string(from)
	}
	const query = `
		INSERT INTO order_events (order_id, type, actor_id, payload, created_at)
		VALUES ($1, 'ORDER_STATUS_CHANGED', $2, $3::jsonb, $4)
	`
	if _, err := tx.Exec(ctx, query, orderID, nullableString(actorID), toJSON(payload), at); err != nil {
		return fmt.Errorf("order: insert event: %w", err)
	}
	return nil
}

func nonNilRoles(roles []RoleRef) []RoleRef {
	if roles == nil {
		return []RoleRef{}
	}
	return roles
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func toJSON(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(b)
}
