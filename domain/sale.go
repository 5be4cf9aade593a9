package domain

import "github.com/shopspring/decimal"

// Sale is a finished cash memo. SaleItems are created together with the
// sale and never change afterwards.
type Sale struct {
	ID            int64           `db:"id" json:"id"`
	CustomerPhone string          `db:"customer_phone" json:"customer_phone"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Total         decimal.Decimal `db:"total" json:"total"`
	MemoNumber    string          `db:"memo_number" json:"memo_number"`
	SoldBy        int64           `db:"sold_by" json:"sold_by"`
	SoldByEmail   string          `db:"sold_by_email" json:"sold_by_email,omitempty"`
	CreatedAt     string          `db:"created_at" json:"created_at"`
	Items         []SaleItem      `db:"-" json:"items"`
}

// SaleItem stores a snapshot of the product's name and unit price at the
// time of sale, so receipts stay accurate if the product is later edited
// or deleted.
type SaleItem struct {
	ID          int64           `db:"id" json:"id"`
	SaleID      int64           `db:"sale_id" json:"sale_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Subtotal    decimal.Decimal `db:"subtotal" json:"subtotal"`
}
