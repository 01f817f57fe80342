package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must come back empty while the lifecycle holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_active_order_is_assigned_to_holder",
			SQL: `SELECT c.user_id, c.active_order_id, o.status, o.assigned_to FROM coders c
                  JOIN orders o ON o.id = c.active_order_id
                  WHERE o.status <> 'assigned' OR o.assigned_to <> c.user_id`,
		},
		{
			Name: "O2_assigned_order_claimed",
			SQL: `SELECT o.id, o.assigned_to FROM orders o
                  LEFT JOIN coders c ON c.active_order_id = o.id AND c.user_id = o.assigned_to
                  WHERE o.status = 'assigned' AND c.user_id IS NULL`,
		},
		{
			Name: "O3_one_active_order_per_coder",
			SQL: `SELECT assigned_to, COUNT(*) FROM orders
                  WHERE status = 'assigned'
                  GROUP BY assigned_to HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_valid_transitions",
			SQL: `SELECT id, order_id, payload FROM order_events
                  WHERE type = 'ORDER_STATUS_CHANGED'
                    AND (COALESCE(payload->>'from', ''), payload->>'to') NOT IN (
                        ('', 'open'),
                        ('open', 'assigned'), ('open', 'cancelled'),
                        ('assigned', 'completed'), ('assigned', 'cancelled'))`,
		},
		{
			Name: "O5_terminal_is_final",
			SQL: `SELECT order_id, COUNT(*) FROM order_events
                  WHERE payload->>'to' IN ('completed', 'cancelled')
                  GROUP BY order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_completed_timestamp",
			SQL: `SELECT id, status, completed_at FROM orders
                  WHERE (status = 'completed') <> (completed_at IS NOT NULL)`,
		},
		{
			Name: "O7_ratings_for_completed_assignee",
			SQL: `SELECT r.id, r.project_id, r.coder_id FROM project_ratings r
                  JOIN orders o ON o.id = r.project_id
                  WHERE o.status <> 'completed' OR o.assigned_to <> r.coder_id`,
		},
		{
			Name: "O8_coder_bounds",
			SQL: `SELECT user_id, xp, level FROM coders
                  WHERE xp < 0 OR level NOT BETWEEN 1 AND 6 OR completed_orders < 0`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
