package migrations

import (
	"log"

	"github.com/jmoiron/sqlx"
)

// Run creates the database schema required for the POS backend.
//
// sale_items.product_id is deliberately not a foreign key: line items keep a
// denormalized snapshot of the product name and price, and the history must
// survive the product being edited or deleted.
func Run(db *sqlx.DB) {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            email TEXT NOT NULL UNIQUE,
            password TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'admin',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS products (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            description TEXT DEFAULT '',
            price NUMERIC NOT NULL CHECK(price >= 0),
            image TEXT DEFAULT '',
            quantity INTEGER NOT NULL DEFAULT 0 CHECK(quantity >= 0),
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS sales (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            customer_phone TEXT NOT NULL,
            subtotal NUMERIC NOT NULL CHECK(subtotal >= 0),
            discount NUMERIC DEFAULT 0 CHECK(discount >= 0),
            total NUMERIC NOT NULL CHECK(total >= 0),
            memo_number TEXT NOT NULL UNIQUE,
            sold_by INTEGER NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(sold_by) REFERENCES users(id)
        );`,
		`CREATE TABLE IF NOT EXISTS sale_items (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            sale_id INTEGER NOT NULL,
            product_id INTEGER NOT NULL,
            product_name TEXT NOT NULL,
            quantity INTEGER NOT NULL CHECK(quantity > 0),
            price NUMERIC NOT NULL CHECK(price >= 0),
            subtotal NUMERIC NOT NULL CHECK(subtotal >= 0),
            FOREIGN KEY(sale_id) REFERENCES sales(id) ON DELETE CASCADE
        );`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
	}
}
