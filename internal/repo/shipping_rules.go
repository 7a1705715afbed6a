package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/shipping"
)

const ruleColumns = `id::text, name, description, type, base_rate::text, free_shipping_threshold::text,
	weight_rates, price_rates, applicable_countries, excluded_countries, priority, is_active,
	created_at, updated_at`

// RuleStore implements shipping.Store on Postgres. Tier tables are kept as
// JSONB arrays and country lists as text[].
type RuleStore struct {
	DB DB
}

func scanRule(row scanner) (shipping.Rule, error) {
	var (
		r                   shipping.Rule
		ruleType, baseRate  string
		threshold           *string
		weightRaw, priceRaw []byte
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &ruleType, &baseRate, &threshold,
		&weightRaw, &priceRaw, &r.ApplicableCountries, &r.ExcludedCountries, &r.Priority, &r.IsActive,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return shipping.Rule{}, err
	}
	r.Type = shipping.RuleType(ruleType)
	if r.BaseRate, err = parseNumeric(baseRate); err != nil {
		return shipping.Rule{}, fmt.Errorf("rule %s base_rate: %w", r.ID, err)
	}
	if r.FreeShippingThreshold, err = parseNullNumeric(threshold); err != nil {
		return shipping.Rule{}, fmt.Errorf("rule %s free_shipping_threshold: %w", r.ID, err)
	}
	if r.WeightRates, err = decodeTiers(weightRaw); err != nil {
		return shipping.Rule{}, fmt.Errorf("rule %s weight_rates: %w", r.ID, err)
	}
	if r.PriceRates, err = decodeTiers(priceRaw); err != nil {
		return shipping.Rule{}, fmt.Errorf("rule %s price_rates: %w", r.ID, err)
	}
	return r, nil
}

func decodeTiers(raw []byte) ([]shipping.Tier, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tiers []shipping.Tier
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return nil, nil
	}
	return tiers, nil
}

func encodeTiers(tiers []shipping.Tier) ([]byte, error) {
	if tiers == nil {
		tiers = []shipping.Tier{}
	}
	return json.Marshal(tiers)
}

func countriesArg(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}

func (s RuleStore) collect(rows pgx.Rows) ([]shipping.Rule, error) {
	defer rows.Close()
	var out []shipping.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListActive returns every active rule, highest priority first.
func (s RuleStore) ListActive(ctx context.Context) ([]shipping.Rule, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+ruleColumns+` FROM shipping_rules
		WHERE is_active ORDER BY priority DESC, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return s.collect(rows)
}

// List returns one page of rules with the total count.
func (s RuleStore) List(ctx context.Context, p common.Pagination) ([]shipping.Rule, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM shipping_rules`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rules: %w", err)
	}
	limit, offset := pageWindow(p)
	rows, err := s.DB.Query(ctx, `SELECT `+ruleColumns+` FROM shipping_rules
		ORDER BY priority DESC, created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list rules: %w", err)
	}
	out, err := s.collect(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list rules: %w", err)
	}
	return out, total, nil
}

// Get loads rule id.
func (s RuleStore) Get(ctx context.Context, id string) (shipping.Rule, error) {
	uid, err := uuidValue(id)
	if err != nil {
		return shipping.Rule{}, shipping.ErrNotFound
	}
	r, err := scanRule(s.DB.QueryRow(ctx, `SELECT `+ruleColumns+` FROM shipping_rules WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return shipping.Rule{}, shipping.ErrNotFound
	}
	if err != nil {
		return shipping.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// Create inserts r.
func (s RuleStore) Create(ctx context.Context, r shipping.Rule) (shipping.Rule, error) {
	uid, err := uuidValue(r.ID)
	if err != nil {
		return shipping.Rule{}, fmt.Errorf("rule id: %w", err)
	}
	weight, price, err := tierArgs(r)
	if err != nil {
		return shipping.Rule{}, err
	}
	created, err := scanRule(s.DB.QueryRow(ctx, `INSERT INTO shipping_rules (id, name, description, type,
		base_rate, free_shipping_threshold, weight_rates, price_rates, applicable_countries,
		excluded_countries, priority, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::jsonb, $8::jsonb, $9, $10, $11, $12, $13, $14)
		RETURNING `+ruleColumns,
		uid, r.Name, r.Description, string(r.Type), numericArg(r.BaseRate), nullNumericArg(r.FreeShippingThreshold),
		weight, price, countriesArg(r.ApplicableCountries), countriesArg(r.ExcludedCountries),
		r.Priority, r.IsActive, r.CreatedAt, r.UpdatedAt))
	if err != nil {
		return shipping.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return created, nil
}

// Update rewrites rule r.ID.
func (s RuleStore) Update(ctx context.Context, r shipping.Rule) (shipping.Rule, error) {
	uid, err := uuidValue(r.ID)
	if err != nil {
		return shipping.Rule{}, shipping.ErrNotFound
	}
	weight, price, err := tierArgs(r)
	if err != nil {
		return shipping.Rule{}, err
	}
	updated, err := scanRule(s.DB.QueryRow(ctx, `UPDATE shipping_rules SET name = $2, description = $3,
		type = $4, base_rate = $5::numeric, free_shipping_threshold = $6::numeric,
		weight_rates = $7::jsonb, price_rates = $8::jsonb, applicable_countries = $9,
		excluded_countries = $10, priority = $11, is_active = $12, updated_at = $13
		WHERE id = $1
		RETURNING `+ruleColumns,
		uid, r.Name, r.Description, string(r.Type), numericArg(r.BaseRate), nullNumericArg(r.FreeShippingThreshold),
		weight, price, countriesArg(r.ApplicableCountries), countriesArg(r.ExcludedCountries),
		r.Priority, r.IsActive, r.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return shipping.Rule{}, shipping.ErrNotFound
	}
	if err != nil {
		return shipping.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return updated, nil
}

// Delete removes rule id.
func (s RuleStore) Delete(ctx context.Context, id string) error {
	uid, err := uuidValue(id)
	if err != nil {
		return shipping.ErrNotFound
	}
	tag, err := s.DB.Exec(ctx, `DELETE FROM shipping_rules WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shipping.ErrNotFound
	}
	return nil
}

func tierArgs(r shipping.Rule) ([]byte, []byte, error) {
	weight, err := encodeTiers(r.WeightRates)
	if err != nil {
		return nil, nil, fmt.Errorf("encode weight rates: %w", err)
	}
	price, err := encodeTiers(r.PriceRates)
	if err != nil {
		return nil, nil, fmt.Errorf("encode price rates: %w", err)
	}
	return weight, price, nil
}
