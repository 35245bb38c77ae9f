// Package catalog holds the product and SKU read models used during order
// creation. Catalog authoring lives in a separate back office; this core only
// resolves codes to prices and stock.
package catalog

import "context"

// Product groups sellable SKUs under one name.
type Product struct {
	ID   string
	Name string
}

// SKU is a concrete sellable variant. Prices are integers in minor currency
// units; Stock is the on-hand quantity available for reservation.
type SKU struct {
	ID          string
	ProductID   string
	ProductName string
	Code        string
	ListPrice   int64
	MemberPrice int64
	Stock       int64
}

// UnitPrice returns the price a given buyer pays for one unit.
func (s SKU) UnitPrice(isMember bool) int64 {
	if isMember {
		return s.MemberPrice
	}
	return s.ListPrice
}

// Repository resolves SKUs for order creation.
type Repository interface {
	// GetByCodes resolves SKUs by code in one batch. Codes that do not
	// resolve are simply absent from the result.
	GetByCodes(ctx context.Context, codes []string) ([]SKU, error)
}
