package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Product is the catalog row this service reads and, through the ledger only, decrements.
type Product struct {
	ID       int64
	SKU      string
	Title    string
	Price    decimal.Decimal
	Currency string
	StockQty int
	Active   bool
}

// StockRequest asks the ledger to take Qty units of ProductID.
type StockRequest struct {
	ProductID int64
	Qty       int
}

// NormalizeStockRequests merges duplicate products and sorts by ascending product id,
// which is the lock acquisition order.
func NormalizeStockRequests(reqs []StockRequest) []StockRequest {
	merged := make(map[int64]int, len(reqs))
	for _, r := range reqs {
		merged[r.ProductID] += r.Qty
	}

	out := make([]StockRequest, 0, len(merged))
	for id, qty := range merged {
		out = append(out, StockRequest{ProductID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// ProductIDs returns the ids of reqs in order.
func ProductIDs(reqs []StockRequest) []int64 {
	ids := make([]int64, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ProductID
	}
	return ids
}
