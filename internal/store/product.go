package store

import (
	"database/sql"
	"fmt"

	"github.com/mark8pips/licensing/internal/model"
)

type ProductStore struct {
	db *sql.DB
}

func NewProductStore(db *sql.DB) *ProductStore {
	return &ProductStore{db: db}
}

func scanProduct(scanner interface{ Scan(...any) error }) (*model.Product, error) {
	var p model.Product
	var isActive int
	err := scanner.Scan(
		&p.ID, &p.Name, &p.Type, &p.Description, &p.PriceMonthly,
		&p.PriceYearly, &p.PriceLifetime, &isActive, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.IsActive = isActive != 0
	return &p, nil
}

const productCols = `id, name, type, description, price_monthly, price_yearly, price_lifetime, is_active, created_at`

// Create inserts a product. Omitted yearly and lifetime prices default to
// monthly x10 and monthly x30 (the built-in annual/lifetime discount).
func (s *ProductStore) Create(name, productType, description string, priceMonthly, priceYearly, priceLifetime float64) (*model.Product, error) {
	if priceYearly == 0 {
		priceYearly = priceMonthly * 10
	}
	if priceLifetime == 0 {
		priceLifetime = priceMonthly * 30
	}

	result, err := s.db.Exec(
		`INSERT INTO products (name, type, description, price_monthly, price_yearly, price_lifetime, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, 1)`,
		name, productType, description, priceMonthly, priceYearly, priceLifetime,
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ProductStore) GetByID(id int64) (*model.Product, error) {
	row := s.db.QueryRow(`SELECT `+productCols+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *ProductStore) List() ([]*model.Product, error) {
	return s.list(`SELECT ` + productCols + ` FROM products ORDER BY created_at DESC`)
}

func (s *ProductStore) ListActive() ([]*model.Product, error) {
	return s.list(`SELECT ` + productCols + ` FROM products WHERE is_active = 1 ORDER BY created_at DESC`)
}

func (s *ProductStore) list(query string) ([]*model.Product, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *ProductStore) SetActive(id int64, active bool) error {
	v := 0
	if active {
		v = 1
	}
	_, err := s.db.Exec(`UPDATE products SET is_active = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("set product active: %w", err)
	}
	return nil
}

func (s *ProductStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}
