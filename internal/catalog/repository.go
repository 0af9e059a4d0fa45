package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

// Repository reads the product catalog.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a catalog repository to the provided database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository that runs on tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByID returns an active product.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

type listParams struct {
	Category string
	Limit    int
	Cursor   *pagination.Cursor
}

// List pages through active products, newest first.
func (r *Repository) List(ctx context.Context, params listParams) ([]models.Product, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Product{}).Where("active = ?", true)
	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}

	var rows []models.Product
	if err := pagination.Keyset(query, params.Cursor, params.Limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Split(rows, params.Limit, func(p models.Product) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return page, next, nil
}

type categoryCount struct {
	Category string
	Count    int64
}

// Categories returns each category with its active product count.
func (r *Repository) Categories(ctx context.Context) ([]categoryCount, error) {
	var rows []categoryCount
	err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Select("category, COUNT(*) AS count").
		Where("active = ?", true).
		Group("category").
		Order("category ASC").
		Scan(&rows).Error
	return rows, err
}
