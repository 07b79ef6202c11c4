package nlq

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// DemoSchema describes the demo dataset to the model.
const DemoSchema = `products(id INTEGER, name TEXT, category TEXT, unit_price_eur REAL, weight_kg REAL, length_mm INTEGER)
customers(id INTEGER, name TEXT, country TEXT, segment TEXT)
sales(id INTEGER, product_id INTEGER REFERENCES products(id), customer_id INTEGER REFERENCES customers(id), sold_on TEXT /* YYYY-MM-DD */, quantity_pcs INTEGER, revenue_eur REAL)`

const demoDDL = `
CREATE TABLE IF NOT EXISTS products (
	id              INTEGER PRIMARY KEY,
	name            TEXT NOT NULL,
	category        TEXT NOT NULL,
	unit_price_eur  REAL NOT NULL,
	weight_kg       REAL NOT NULL,
	length_mm       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS customers (
	id       INTEGER PRIMARY KEY,
	name     TEXT NOT NULL,
	country  TEXT NOT NULL,
	segment  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sales (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id    INTEGER NOT NULL REFERENCES products(id),
	customer_id   INTEGER NOT NULL REFERENCES customers(id),
	sold_on       TEXT NOT NULL,
	quantity_pcs  INTEGER NOT NULL,
	revenue_eur   REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sales_sold_on ON sales (sold_on);
`

type demoProduct struct {
	name     string
	category string
	price    float64
	weight   float64
	length   int
}

var demoProducts = []demoProduct{
	{"Steel Bracket", "Hardware", 4.50, 0.35, 120},
	{"Aluminium Profile", "Hardware", 12.90, 1.20, 2000},
	{"Copper Cable", "Electrical", 23.00, 2.50, 5000},
	{"LED Panel", "Electrical", 45.00, 1.80, 600},
	{"Safety Helmet", "Safety", 18.50, 0.40, 300},
	{"Work Gloves", "Safety", 6.20, 0.15, 250},
	{"Drill Bit Set", "Tools", 29.90, 0.90, 150},
	{"Cordless Drill", "Tools", 129.00, 1.70, 280},
}

var demoCustomers = [][3]string{
	{"Ferreteria Sol", "Spain", "Retail"},
	{"Bâtiment Express", "France", "Wholesale"},
	{"Bau Werk GmbH", "Germany", "Industrial"},
	{"Edilizia Roma", "Italy", "Wholesale"},
	{"Obras Lisboa", "Portugal", "Retail"},
	{"Construcciones Norte", "Spain", "Industrial"},
}

// DemoYear is the year covered by the seeded sales.
const DemoYear = 2025

// SeedDemo creates and fills the demo dataset unless products already exist.
func SeedDemo(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, demoDDL); err != nil {
		return fmt.Errorf("creating demo schema: %w", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return fmt.Errorf("checking demo data: %w", err)
	}
	if n > 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin demo seed: %w", err)
	}
	defer tx.Rollback()

	for i, p := range demoProducts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO products (id, name, category, unit_price_eur, weight_kg, length_mm) VALUES (?, ?, ?, ?, ?, ?)`,
			i+1, p.name, p.category, p.price, p.weight, p.length,
		); err != nil {
			return fmt.Errorf("seeding products: %w", err)
		}
	}
	for i, c := range demoCustomers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO customers (id, name, country, segment) VALUES (?, ?, ?, ?)`,
			i+1, c[0], c[1], c[2],
		); err != nil {
			return fmt.Errorf("seeding customers: %w", err)
		}
	}
	for month := 1; month <= 12; month++ {
		for i, p := range demoProducts {
			pid := i + 1
			customer := (pid+month)%len(demoCustomers) + 1
			qty := (pid*7+month*13)%40 + 5
			day := (pid*3+month)%28 + 1
			revenue := math.Round(float64(qty)*p.price*100) / 100
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sales (product_id, customer_id, sold_on, quantity_pcs, revenue_eur) VALUES (?, ?, ?, ?, ?)`,
				pid, customer, fmt.Sprintf("%d-%02d-%02d", DemoYear, month, day), qty, revenue,
			); err != nil {
				return fmt.Errorf("seeding sales: %w", err)
			}
		}
	}
	return tx.Commit()
}
