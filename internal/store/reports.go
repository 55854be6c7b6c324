package store

import (
	"context"
	"time"

	"storefront-service/internal/models"
)

// UserReportRows retrieves users created inside the date range, without
// credential fields.
func (s *Store) UserReportRows(ctx context.Context, from, to time.Time) ([]models.UserReportRow, error) {
	var rows []models.UserReportRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, first_name, last_name, email_address, user_role, created_at
		FROM users
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY id`, from, to)
	return rows, err
}

// OrderReportRows retrieves orders placed inside the date range, joined with
// the owning user's email, the shipping address and the shipping option
// name. Orders without an address are skipped the same way the join drops
// them.
func (s *Store) OrderReportRows(ctx context.Context, from, to time.Time) ([]models.OrderReportRow, error) {
	var rows []models.OrderReportRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT o.id,
		       u.email_address AS user_email,
		       o.status,
		       o.placed_on,
		       o.dispatched_on,
		       o.completed_on,
		       o.total,
		       a.line1    AS address_line1,
		       a.line2    AS address_line2,
		       a.city     AS address_city,
		       a.postcode AS address_postcode,
		       sh.name    AS shipping_option
		FROM orders o
		JOIN users u ON u.id = o.user_id
		JOIN address_details a ON a.id = o.address_id
		JOIN shipping_options sh ON sh.id = o.shipping_id
		WHERE o.placed_on >= $1 AND o.placed_on <= $2
		ORDER BY o.placed_on`, from, to)
	return rows, err
}
