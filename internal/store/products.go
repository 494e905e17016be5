package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type VariantInput struct {
	VariantKey string
	Stock      int
}

func CreateProduct(ctx context.Context, db *sql.DB, sku, name, description string, price decimal.Decimal, lowStockThreshold int, variants []VariantInput) (*models.Product, error) {
	product := &models.Product{}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO products (sku, name, description, price, total_sold, low_stock_threshold, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, 0, $5, NOW(), NOW(), 1)
		RETURNING id, sku, name, description, price, total_sold, low_stock_threshold, created_at, updated_at, version`

	err = tx.QueryRowContext(ctx, query, sku, name, description, price, lowStockThreshold).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.TotalSold,
		&product.LowStockThreshold,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	for _, v := range variants {
		var variant models.ProductVariant
		err := tx.QueryRowContext(ctx,
			`INSERT INTO product_variants (product_id, variant_key, stock, created_at, updated_at)
			 VALUES ($1, $2, $3, NOW(), NOW())
			 RETURNING id, product_id, variant_key, stock, created_at, updated_at`,
			product.ID, v.VariantKey, v.Stock).Scan(
			&variant.ID,
			&variant.ProductID,
			&variant.VariantKey,
			&variant.Stock,
			&variant.CreatedAt,
			&variant.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("create variant %q: %w", v.VariantKey, err)
		}
		product.Variants = append(product.Variants, variant)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `
		SELECT id, sku, name, description, price, total_sold, low_stock_threshold, created_at, updated_at, version
		FROM products
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.TotalSold,
		&product.LowStockThreshold,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, product_id, variant_key, stock, created_at, updated_at
		 FROM product_variants
		 WHERE product_id = $1
		 ORDER BY variant_key`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.ProductVariant
		err := rows.Scan(&v.ID, &v.ProductID, &v.VariantKey, &v.Stock, &v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		product.Variants = append(product.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return product, nil
}

// DecrementResult reports the outcome of one committed stock decrement.
type DecrementResult struct {
	VariantID int64
	NewStock  int
	UnitPrice decimal.Decimal
	SKU       string
	LowStock  bool
}

// TryDecrementStock locks the variant row and decrements its stock inside the
// caller's transaction. A shortfall returns *ItemFailure with the pre-decrement
// available count and leaves the row untouched. On success totalSold advances
// on the product, and LowStock flags whether the new stock fell to or below
// the product's threshold; the caller emits the actual alert after commit.
func TryDecrementStock(ctx context.Context, tx *sql.Tx, productID int64, variantKey string, quantity int) (*DecrementResult, *ItemFailure, error) {
	var (
		variantID int64
		stock     int
		threshold int
		price     decimal.Decimal
		sku       string
	)

	query := `
		SELECT v.id, v.stock, p.low_stock_threshold, p.price, p.sku
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.product_id = $1 AND v.variant_key = $2
		FOR UPDATE OF v`

	err := tx.QueryRowContext(ctx, query, productID, variantKey).Scan(&variantID, &stock, &threshold, &price, &sku)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ItemFailure{
				ProductID:  productID,
				VariantKey: variantKey,
				Requested:  quantity,
				Reason:     ReasonVariantNotFound,
			}, nil
		}
		return nil, nil, fmt.Errorf("lock variant: %w", err)
	}

	if stock < quantity {
		return nil, &ItemFailure{
			ProductID:  productID,
			VariantKey: variantKey,
			Requested:  quantity,
			Reason:     ReasonInsufficientStock,
			Available:  stock,
		}, nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE product_variants
		 SET stock = stock - $1, updated_at = NOW()
		 WHERE id = $2
		   AND stock >= $1`,
		quantity, variantID)
	if err != nil {
		return nil, nil, fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// the row is locked, so this only happens on a logic error
		return nil, &ItemFailure{
			ProductID:  productID,
			VariantKey: variantKey,
			Requested:  quantity,
			Reason:     ReasonInsufficientStock,
			Available:  stock,
		}, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE products
		 SET total_sold = total_sold + $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return nil, nil, fmt.Errorf("update total_sold: %w", err)
	}

	newStock := stock - quantity
	return &DecrementResult{
		VariantID: variantID,
		NewStock:  newStock,
		UnitPrice: price,
		SKU:       sku,
		LowStock:  newStock <= threshold,
	}, nil, nil
}

// RestoreStock adds quantity back to a variant inside the caller's
// transaction. It does not deduplicate: the caller must guarantee each
// cancellation or refund restores a given line item exactly once.
func RestoreStock(ctx context.Context, tx *sql.Tx, variantID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE product_variants
		 SET stock = stock + $1, updated_at = NOW()
		 WHERE id = $2`,
		quantity, variantID)
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrVariantNotFound
	}

	return nil
}

// AdjustVariantStock applies a signed delta to a variant's stock for
// restocks and manual corrections. The stock never goes below zero.
func AdjustVariantStock(ctx context.Context, db *sql.DB, productID int64, variantKey string, delta int) (int, error) {
	var newStock int
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var stock int
		err := tx.QueryRowContext(ctx,
			`SELECT stock FROM product_variants
			 WHERE product_id = $1 AND variant_key = $2
			 FOR UPDATE`,
			productID, variantKey).Scan(&stock)
		if err == sql.ErrNoRows {
			return ErrVariantNotFound
		}
		if err != nil {
			return fmt.Errorf("lock variant: %w", err)
		}

		if stock+delta < 0 {
			return &ValidationError{Field: "delta", Message: "adjustment would make stock negative"}
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE product_variants
			 SET stock = stock + $1, updated_at = NOW()
			 WHERE product_id = $2 AND variant_key = $3
			 RETURNING stock`,
			delta, productID, variantKey).Scan(&newStock)
		if err != nil {
			return fmt.Errorf("adjust stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newStock, nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT id, sku, name, description, price, total_sold, low_stock_threshold, created_at, updated_at, version
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(
			&product.ID,
			&product.SKU,
			&product.Name,
			&product.Description,
			&product.Price,
			&product.TotalSold,
			&product.LowStockThreshold,
			&product.CreatedAt,
			&product.UpdatedAt,
			&product.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}
