package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

// Service exposes catalog reads to controllers and the order flow.
type Service interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error)
	LoadProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ListProducts(ctx context.Context, input ListProductsInput) (*ProductPage, error)
	ListCategories(ctx context.Context) ([]CategoryDTO, error)
}

type service struct {
	repo *Repository
}

// NewService constructs the catalog service.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error) {
	product, err := s.LoadProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := toProductDTO(*product)
	return &dto, nil
}

// LoadProduct returns the active product row for pricing snapshots.
func (s *service) LoadProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product, nil
}

func (s *service) ListProducts(ctx context.Context, input ListProductsInput) (*ProductPage, error) {
	params := listParams{
		Category: strings.ToLower(strings.TrimSpace(input.Category)),
		Limit:    input.Limit,
	}
	if input.Cursor != "" {
		cursor, err := pagination.ParseCursor(input.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		params.Cursor = cursor
	}
	rows, next, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	page := &ProductPage{Items: make([]ProductDTO, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, toProductDTO(row))
	}
	if next != nil {
		page.Cursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

func (s *service) ListCategories(ctx context.Context) ([]CategoryDTO, error) {
	rows, err := s.repo.Categories(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list categories")
	}
	out := make([]CategoryDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, CategoryDTO{Name: row.Category, Products: row.Count})
	}
	return out, nil
}
