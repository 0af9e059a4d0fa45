package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/coinsacademy/topup-backend/pkg/db/dbtest"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
)

func newTestService(t *testing.T) (Service, *Repository) {
	t.Helper()
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, repo
}

func TestGetProductHidesInactive(t *testing.T) {
	svc, repo := newTestService(t)
	product := dbtest.CreateProduct(t, repo.db, nil)
	if err := repo.db.Model(product).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := svc.GetProduct(context.Background(), product.ID)
	if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetProductReturnsMoney(t *testing.T) {
	svc, repo := newTestService(t)
	product := dbtest.CreateProduct(t, repo.db, func(p *models.Product) { p.UnitPrice = 1250 })

	dto, err := svc.GetProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if dto.UnitPrice.Display != "12.50" || dto.UnitPrice.Currency != "EGP" {
		t.Fatalf("unexpected price %+v", dto.UnitPrice)
	}
	if len(dto.FulfillmentSchema) != 1 {
		t.Fatalf("expected schema to round trip, got %+v", dto.FulfillmentSchema)
	}
}

func TestGetProductUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.GetProduct(context.Background(), uuid.New()); !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListProductsFiltersAndPaginates(t *testing.T) {
	svc, repo := newTestService(t)
	for i := 0; i < 3; i++ {
		dbtest.CreateProduct(t, repo.db, nil)
	}
	dbtest.CreateProduct(t, repo.db, func(p *models.Product) {
		p.GameID = "netflix"
		p.Category = "subscriptions"
	})

	first, err := svc.ListProducts(context.Background(), ListProductsInput{Category: "PUBG", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Cursor == "" {
		t.Fatalf("expected full first page with cursor, got %d items cursor=%q", len(first.Items), first.Cursor)
	}
	second, err := svc.ListProducts(context.Background(), ListProductsInput{Category: "pubg", Limit: 2, Cursor: first.Cursor})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Items) != 1 || second.Cursor != "" {
		t.Fatalf("expected last page of one, got %d items cursor=%q", len(second.Items), second.Cursor)
	}
	for _, item := range append(first.Items, second.Items...) {
		if item.Category != "pubg" {
			t.Fatalf("category filter leaked %s", item.Category)
		}
	}
}

func TestListCategoriesCountsActiveProducts(t *testing.T) {
	svc, repo := newTestService(t)
	dbtest.CreateProduct(t, repo.db, nil)
	dbtest.CreateProduct(t, repo.db, nil)
	dbtest.CreateProduct(t, repo.db, func(p *models.Product) { p.Category = "freefire" })

	cats, err := svc.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %+v", cats)
	}
	if cats[0].Name != "freefire" || cats[0].Products != 1 || cats[1].Name != "pubg" || cats[1].Products != 2 {
		t.Fatalf("unexpected categories %+v", cats)
	}
}
