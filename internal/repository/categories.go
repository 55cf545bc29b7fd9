package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCategoryStore reads the classification reference table. It
// implements classify.CategoryStore; all lookups are read-only so it runs
// directly on the pool.
type PostgresCategoryStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCategoryStore creates a category store over a pgx pool.
func NewPostgresCategoryStore(pool *pgxpool.Pool) *PostgresCategoryStore {
	return &PostgresCategoryStore{pool: pool}
}

// scanText reads one nullable text column, mapping both NULL and no-rows
// to the empty string.
func scanText(row pgx.Row, dst ...*string) error {
	targets := make([]any, len(dst))
	nulls := make([]*string, len(dst))
	for i := range dst {
		targets[i] = &nulls[i]
	}
	err := row.Scan(targets...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	for i, v := range nulls {
		if v != nil {
			*dst[i] = *v
		}
	}
	return nil
}

func (s *PostgresCategoryStore) FormattedForTriple(ctx context.Context, large, medium, small string) (string, error) {
	var label string
	err := scanText(s.pool.QueryRow(ctx, `
		SELECT formatted_name FROM categories
		WHERE large_name = $1 AND medium_name = $2 AND small_name = $3
		ORDER BY small_code DESC NULLS LAST
		LIMIT 1`, large, medium, small), &label)
	return label, err
}

func (s *PostgresCategoryStore) FormattedForPrefix(ctx context.Context, large, medium string) (string, error) {
	var label string
	err := scanText(s.pool.QueryRow(ctx, `
		SELECT formatted_name FROM categories
		WHERE large_name = $1 AND medium_name = $2 AND small_code IS NULL
		ORDER BY medium_code DESC NULLS LAST
		LIMIT 1`, large, medium), &label)
	return label, err
}

func (s *PostgresCategoryStore) LargeCodeForName(ctx context.Context, large string) (string, error) {
	var code string
	err := scanText(s.pool.QueryRow(ctx, `
		SELECT large_code FROM categories
		WHERE large_name = $1 AND large_code IS NOT NULL
		ORDER BY large_code DESC
		LIMIT 1`, large), &code)
	return code, err
}

func (s *PostgresCategoryStore) MediumCodeForName(ctx context.Context, large, largeCode, medium string) (string, string, error) {
	var code, matchedLarge string
	err := scanText(s.pool.QueryRow(ctx, `
		SELECT medium_code, large_code FROM categories
		WHERE medium_name = $1 AND medium_code IS NOT NULL
		  AND ($2 = '' OR large_name = $2)
		  AND ($3 = '' OR large_code = $3)
		ORDER BY medium_code DESC
		LIMIT 1`, medium, large, largeCode), &code, &matchedLarge)
	return code, matchedLarge, err
}

func (s *PostgresCategoryStore) SmallCodeForName(ctx context.Context, large, largeCode, medium, mediumCode, small string) (string, string, string, error) {
	var code, matchedLarge, matchedMedium string
	err := scanText(s.pool.QueryRow(ctx, `
		SELECT small_code, large_code, medium_code FROM categories
		WHERE small_name = $1 AND small_code IS NOT NULL
		  AND ($2 = '' OR large_name = $2)
		  AND ($3 = '' OR large_code = $3)
		  AND ($4 = '' OR medium_name = $4)
		  AND ($5 = '' OR medium_code = $5)
		ORDER BY small_code DESC
		LIMIT 1`, small, large, largeCode, medium, mediumCode), &code, &matchedLarge, &matchedMedium)
	return code, matchedLarge, matchedMedium, err
}
