package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proclub/commerce/internal/domain/catalog"
)

const getSKUsByCodesSQL = `SELECT s.id, s.product_id, p.name, s.sku_code, s.list_price, s.member_price, s.stock
	FROM skus s JOIN products p ON p.id = s.product_id
	WHERE s.sku_code = ANY($1)`

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByCodes resolves SKUs by code in a single batch query. Missing codes are
// absent from the result.
func (r *CatalogRepository) GetByCodes(ctx context.Context, codes []string) ([]catalog.SKU, error) {
	rows, err := r.pool.Query(ctx, getSKUsByCodesSQL, codes)
	if err != nil {
		return nil, fmt.Errorf("getting skus by codes: %w", err)
	}
	return pgx.CollectRows(rows, scanSKU)
}

func scanSKU(row pgx.CollectableRow) (catalog.SKU, error) {
	var s catalog.SKU
	err := row.Scan(&s.ID, &s.ProductID, &s.ProductName, &s.Code, &s.ListPrice, &s.MemberPrice, &s.Stock)
	return s, err
}
