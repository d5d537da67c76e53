package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Product represents a product in the catalog. The catalog itself is owned by
// an external collaborator; the batch engine reads id/name/category/cost
// fields and writes back the aggregate on-hand quantity after batch mutations.
type Product struct {
	ID             string              `db:"id" json:"id"`
	Name           string              `db:"name" json:"name"`
	Category       string              `db:"category" json:"category"`
	Unit           string              `db:"unit" json:"unit"`
	CostPerUnit    decimal.NullDecimal `db:"cost_per_unit" json:"cost_per_unit,omitempty"`
	MinStock       int                 `db:"min_stock" json:"min_stock"`
	QuantityOnHand int                 `db:"quantity_on_hand" json:"quantity_on_hand"`
	IsActive       bool                `db:"is_active" json:"is_active"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// ProductRepository handles product persistence
type ProductRepository struct {
	db *database.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create creates a new product
func (r *ProductRepository) Create(ctx context.Context, product *Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}

	query := `
		INSERT INTO products (
			id, name, category, unit, cost_per_unit, min_stock, quantity_on_hand, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		product.ID, product.Name, product.Category, product.Unit,
		product.CostPerUnit, product.MinStock, product.QuantityOnHand, product.IsActive,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	var product Product
	query := `SELECT * FROM products WHERE id = $1`
	if err := r.db.GetContext(ctx, &product, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &product, nil
}

// GetAllActive gets all active products
func (r *ProductRepository) GetAllActive(ctx context.Context) ([]*Product, error) {
	var products []*Product
	query := `SELECT * FROM products WHERE is_active = true ORDER BY name`
	if err := r.db.SelectContext(ctx, &products, query); err != nil {
		return nil, err
	}
	return products, nil
}

// List lists products with pagination
func (r *ProductRepository) List(ctx context.Context, page, perPage int, category string) ([]*Product, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM products WHERE is_active = true`
	args := []interface{}{}

	if category != "" {
		countQuery += ` AND category = $1`
		args = append(args, category)
	}

	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `SELECT * FROM products WHERE is_active = true`
	if category != "" {
		query += ` AND category = $1 ORDER BY name LIMIT $2 OFFSET $3`
		args = append(args, perPage, offset)
	} else {
		query += ` ORDER BY name LIMIT $1 OFFSET $2`
		args = append(args, perPage, offset)
	}

	var products []*Product
	if err := r.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

// SetQuantityOnHandTx writes the recomputed aggregate on-hand quantity for a
// product inside an existing transaction.
func (r *ProductRepository) SetQuantityOnHandTx(ctx context.Context, tx *sqlx.Tx, productID string, quantity int) error {
	query := `UPDATE products SET quantity_on_hand = $2, updated_at = NOW() WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, productID, quantity)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("product")
	}

	return nil
}

// GetByIDTx gets a product by ID inside an existing transaction
func (r *ProductRepository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*Product, error) {
	var product Product
	query := `SELECT * FROM products WHERE id = $1`
	if err := tx.GetContext(ctx, &product, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &product, nil
}
