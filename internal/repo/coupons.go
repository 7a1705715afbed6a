package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/coupon"
)

const couponColumns = `id::text, code, description, discount_type, discount_value::text,
	minimum_purchase::text, max_discount::text, start_date, expiry_date, usage_limit,
	usage_per_user, used_count, is_active, created_at, updated_at`

// CouponStore implements coupon.Store on Postgres.
type CouponStore struct {
	DB DB
}

func scanCoupon(row scanner) (coupon.Coupon, error) {
	var (
		c              coupon.Coupon
		discountType   string
		value, minimum string
		maxDiscount    *string
	)
	err := row.Scan(&c.ID, &c.Code, &c.Description, &discountType, &value,
		&minimum, &maxDiscount, &c.StartDate, &c.ExpiryDate, &c.UsageLimit,
		&c.UsagePerUser, &c.UsedCount, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return coupon.Coupon{}, err
	}
	c.DiscountType = coupon.DiscountType(discountType)
	if c.DiscountValue, err = parseNumeric(value); err != nil {
		return coupon.Coupon{}, fmt.Errorf("coupon %s discount_value: %w", c.Code, err)
	}
	if c.MinimumPurchase, err = parseNumeric(minimum); err != nil {
		return coupon.Coupon{}, fmt.Errorf("coupon %s minimum_purchase: %w", c.Code, err)
	}
	if c.MaxDiscount, err = parseNullNumeric(maxDiscount); err != nil {
		return coupon.Coupon{}, fmt.Errorf("coupon %s max_discount: %w", c.Code, err)
	}
	return c, nil
}

// GetByCode loads the coupon with the given normalized code.
func (s CouponStore) GetByCode(ctx context.Context, code string) (coupon.Coupon, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code)
	c, err := scanCoupon(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return coupon.Coupon{}, coupon.ErrNotFound
	}
	if err != nil {
		return coupon.Coupon{}, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// List returns one page of coupons, newest first, with the total count.
func (s CouponStore) List(ctx context.Context, p common.Pagination) ([]coupon.Coupon, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM coupons`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count coupons: %w", err)
	}
	limit, offset := pageWindow(p)
	rows, err := s.DB.Query(ctx, `SELECT `+couponColumns+` FROM coupons
		ORDER BY created_at DESC, code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()
	out := make([]coupon.Coupon, 0, limit)
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list coupons: %w", err)
	}
	return out, total, nil
}

// Create inserts c. A duplicate code yields coupon.ErrCodeTaken.
func (s CouponStore) Create(ctx context.Context, c coupon.Coupon) (coupon.Coupon, error) {
	id, err := uuidValue(c.ID)
	if err != nil {
		return coupon.Coupon{}, fmt.Errorf("coupon id: %w", err)
	}
	row := s.DB.QueryRow(ctx, `INSERT INTO coupons (id, code, description, discount_type,
		discount_value, minimum_purchase, max_discount, start_date, expiry_date, usage_limit,
		usage_per_user, used_count, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, 0, $12, $13, $14)
		RETURNING `+couponColumns,
		id, c.Code, c.Description, string(c.DiscountType),
		numericArg(c.DiscountValue), numericArg(c.MinimumPurchase), nullNumericArg(c.MaxDiscount),
		c.StartDate, c.ExpiryDate, c.UsageLimit, c.UsagePerUser, c.IsActive, c.CreatedAt, c.UpdatedAt)
	created, err := scanCoupon(row)
	if isUniqueViolation(err) {
		return coupon.Coupon{}, coupon.ErrCodeTaken
	}
	if err != nil {
		return coupon.Coupon{}, fmt.Errorf("create coupon: %w", err)
	}
	return created, nil
}

// Update rewrites the editable columns of c. used_count is left alone.
func (s CouponStore) Update(ctx context.Context, c coupon.Coupon) (coupon.Coupon, error) {
	id, err := uuidValue(c.ID)
	if err != nil {
		return coupon.Coupon{}, coupon.ErrNotFound
	}
	row := s.DB.QueryRow(ctx, `UPDATE coupons SET code = $2, description = $3, discount_type = $4,
		discount_value = $5::numeric, minimum_purchase = $6::numeric, max_discount = $7::numeric,
		start_date = $8, expiry_date = $9, usage_limit = $10, usage_per_user = $11,
		is_active = $12, updated_at = $13
		WHERE id = $1
		RETURNING `+couponColumns,
		id, c.Code, c.Description, string(c.DiscountType),
		numericArg(c.DiscountValue), numericArg(c.MinimumPurchase), nullNumericArg(c.MaxDiscount),
		c.StartDate, c.ExpiryDate, c.UsageLimit, c.UsagePerUser, c.IsActive, c.UpdatedAt)
	updated, err := scanCoupon(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return coupon.Coupon{}, coupon.ErrNotFound
	case isUniqueViolation(err):
		return coupon.Coupon{}, coupon.ErrCodeTaken
	case err != nil:
		return coupon.Coupon{}, fmt.Errorf("update coupon: %w", err)
	}
	return updated, nil
}

// Delete removes the coupon; its usages go with it through the foreign key.
func (s CouponStore) Delete(ctx context.Context, id string) error {
	uid, err := uuidValue(id)
	if err != nil {
		return coupon.ErrNotFound
	}
	tag, err := s.DB.Exec(ctx, `DELETE FROM coupons WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete coupon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// UsagesByUser returns the redemptions userID made with the coupon, oldest first.
func (s CouponStore) UsagesByUser(ctx context.Context, couponID, userID string) ([]coupon.Usage, error) {
	cid, err := uuidValue(couponID)
	if err != nil {
		return nil, coupon.ErrNotFound
	}
	rows, err := s.DB.Query(ctx, `SELECT user_id, order_no, used_at FROM coupon_usages
		WHERE coupon_id = $1 AND user_id = $2 ORDER BY used_at`, cid, userID)
	if err != nil {
		return nil, fmt.Errorf("list coupon usages: %w", err)
	}
	defer rows.Close()
	var out []coupon.Usage
	for rows.Next() {
		var u coupon.Usage
		if err := rows.Scan(&u.UserID, &u.OrderNo, &u.UsedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// RecordUsage inserts the usage row and bumps used_count in one transaction.
// The coupon row is locked first, so redemptions of one coupon run one at a
// time and the per-user count and the global counter both see committed state.
func (s CouponStore) RecordUsage(ctx context.Context, c coupon.Coupon, u coupon.Usage) (recorded bool, err error) {
	cid, err := uuidValue(c.ID)
	if err != nil {
		return false, coupon.ErrNotFound
	}
	perUser := c.UsagePerUser
	if perUser <= 0 {
		perUser = 1
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin redemption: %w", err)
	}
	defer func() {
		if !recorded {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	var locked int
	if err := tx.QueryRow(ctx, `SELECT 1 FROM coupons WHERE id = $1 FOR UPDATE`, cid).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, coupon.ErrNotFound
		}
		return false, fmt.Errorf("lock coupon: %w", err)
	}

	tag, err := tx.Exec(ctx, `INSERT INTO coupon_usages (coupon_id, user_id, order_no, used_at)
		SELECT $1::uuid, $2::text, $3::text, $4::timestamptz
		WHERE (SELECT count(*) FROM coupon_usages WHERE coupon_id = $1::uuid AND user_id = $2::text) < $5::int
		ON CONFLICT (coupon_id, order_no) DO NOTHING`,
		cid, u.UserID, u.OrderNo, u.UsedAt, perUser)
	if err != nil {
		return false, fmt.Errorf("insert coupon usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id = $1 AND order_no = $2)`,
			cid, u.OrderNo).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("check coupon usage: %w", err)
		}
		if exists {
			return false, nil
		}
		return false, coupon.ReasonPerUserLimitReached
	}

	tag, err = tx.Exec(ctx, `UPDATE coupons SET used_count = used_count + 1, updated_at = $2
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`, cid, u.UsedAt)
	if err != nil {
		return false, fmt.Errorf("bump coupon usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, coupon.ReasonUsageLimitReached
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit redemption: %w", err)
	}
	return true, nil
}
