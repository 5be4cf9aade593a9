package sales

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"cashmemo/m/domain"
)

// Processor creates and reads cash memos. All writes for one sale happen in
// a single transaction: the sale header, its line items and every stock
// decrement either all commit or none of them do.
type Processor struct {
	db *sqlx.DB
}

// NewProcessor constructs a Processor.
func NewProcessor(db *sqlx.DB) *Processor {
	return &Processor{db: db}
}

type SaleItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type CreateSaleInput struct {
	CustomerPhone string
	Items         []SaleItemInput
	Discount      decimal.Decimal
	SoldBy        int64
}

func (in CreateSaleInput) validate() error {
	if strings.TrimSpace(in.CustomerPhone) == "" {
		return &InvalidInputError{Reason: "customer_phone is required"}
	}
	if len(in.Items) == 0 {
		return &InvalidInputError{Reason: "at least one item is required"}
	}
	for _, item := range in.Items {
		if item.ProductID <= 0 {
			return &InvalidInputError{Reason: "product_id is required for each item"}
		}
		if item.Quantity <= 0 {
			return &InvalidInputError{Reason: "quantity must be a positive integer"}
		}
	}
	if in.Discount.IsNegative() {
		return &InvalidInputError{Reason: "discount cannot be negative"}
	}
	return nil
}

type productRow struct {
	ID       int64           `db:"id"`
	Name     string          `db:"name"`
	Price    decimal.Decimal `db:"price"`
	Quantity int64           `db:"quantity"`
}

// CreateSale validates availability for every requested item, computes the
// memo totals, persists the sale with its line items and deducts stock. On
// any failure the transaction is rolled back and no product quantity
// changes.
func (p *Processor) CreateSale(ctx context.Context, input CreateSaleInput) (*domain.Sale, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sale transaction: %w", err)
	}
	defer tx.Rollback()

	subtotal := decimal.Zero
	lines := make([]domain.SaleItem, 0, len(input.Items))
	for _, item := range input.Items {
		var product productRow
		err := tx.GetContext(ctx, &product, `SELECT id, name, price, quantity FROM products WHERE id = $1`, item.ProductID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		if err != nil {
			return nil, fmt.Errorf("load product %d: %w", item.ProductID, err)
		}
		if product.Quantity < item.Quantity {
			return nil, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Quantity,
				Requested:   item.Quantity,
			}
		}

		lineSubtotal := product.Price.Mul(decimal.NewFromInt(item.Quantity))
		subtotal = subtotal.Add(lineSubtotal)
		lines = append(lines, domain.SaleItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			Price:       product.Price,
			Subtotal:    lineSubtotal,
		})
	}

	total := subtotal.Sub(input.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	memoNumber, err := nextMemoNumber(ctx, tx)
	if err != nil {
		return nil, err
	}

	var saleID int64
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO sales (customer_phone, subtotal, discount, total, memo_number, sold_by) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		input.CustomerPhone, subtotal, input.Discount, total, memoNumber, input.SoldBy).Scan(&saleID)
	if err != nil {
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	for _, line := range lines {
		// Guarded decrement: the availability check and the mutation are one
		// statement, so stock can never go negative even if another request
		// changed the quantity after the snapshot read above.
		res, err := tx.ExecContext(ctx,
			`UPDATE products SET quantity = quantity - $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND quantity >= $1`,
			line.Quantity, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("deduct stock for product %d: %w", line.ProductID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("deduct stock for product %d: %w", line.ProductID, err)
		}
		if affected == 0 {
			var available int64
			if err := tx.GetContext(ctx, &available, `SELECT quantity FROM products WHERE id = $1`, line.ProductID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, &ProductNotFoundError{ProductID: line.ProductID}
				}
				return nil, fmt.Errorf("recheck stock for product %d: %w", line.ProductID, err)
			}
			return nil, &InsufficientStockError{
				ProductID:   line.ProductID,
				ProductName: line.ProductName,
				Available:   available,
				Requested:   line.Quantity,
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sale_items (sale_id, product_id, product_name, quantity, price, subtotal) VALUES ($1, $2, $3, $4, $5, $6)`,
			saleID, line.ProductID, line.ProductName, line.Quantity, line.Price, line.Subtotal); err != nil {
			return nil, fmt.Errorf("insert sale item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sale: %w", err)
	}

	return p.GetSale(ctx, saleID)
}

// nextMemoNumber derives a receipt number from the all-time sale count and
// the current time. The count is read inside the insert transaction and the
// column is UNIQUE, so two sales in the same millisecond still get distinct
// numbers.
func nextMemoNumber(ctx context.Context, tx *sqlx.Tx) (string, error) {
	var count int64
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM sales`); err != nil {
		return "", fmt.Errorf("count sales: %w", err)
	}
	return fmt.Sprintf("MEMO-%d-%d", time.Now().UnixMilli(), count+1), nil
}

const saleColumns = `s.id, s.customer_phone, s.subtotal, s.discount, s.total, s.memo_number, s.sold_by, COALESCE(u.email, '') AS sold_by_email, s.created_at`

// GetSale resolves one sale with its line items.
func (p *Processor) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := p.db.GetContext(ctx, &sale,
		`SELECT `+saleColumns+` FROM sales s LEFT JOIN users u ON u.id = s.sold_by WHERE s.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load sale %d: %w", id, err)
	}

	itemsBySale, err := p.loadItems(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	sale.Items = itemsBySale[id]
	if sale.Items == nil {
		sale.Items = []domain.SaleItem{}
	}
	return &sale, nil
}

// ListSales returns every sale, newest first, with line items resolved.
func (p *Processor) ListSales(ctx context.Context) ([]domain.Sale, error) {
	var sales []domain.Sale
	err := p.db.SelectContext(ctx, &sales,
		`SELECT `+saleColumns+` FROM sales s LEFT JOIN users u ON u.id = s.sold_by ORDER BY s.created_at DESC, s.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	if len(sales) == 0 {
		return []domain.Sale{}, nil
	}

	ids := make([]int64, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
	}
	itemsBySale, err := p.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].ID]
		if sales[i].Items == nil {
			sales[i].Items = []domain.SaleItem{}
		}
	}
	return sales, nil
}

func (p *Processor) loadItems(ctx context.Context, saleIDs []int64) (map[int64][]domain.SaleItem, error) {
	query, args, err := sqlx.In(
		`SELECT id, sale_id, product_id, product_name, quantity, price, subtotal FROM sale_items WHERE sale_id IN (?) ORDER BY id`, saleIDs)
	if err != nil {
		return nil, fmt.Errorf("prepare sale items query: %w", err)
	}
	query = p.db.Rebind(query)

	var rows []domain.SaleItem
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}

	itemsBySale := make(map[int64][]domain.SaleItem, len(saleIDs))
	for _, row := range rows {
		itemsBySale[row.SaleID] = append(itemsBySale[row.SaleID], row)
	}
	return itemsBySale, nil
}
