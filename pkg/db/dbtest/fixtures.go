package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/enums"
	"github.com/coinsacademy/topup-backend/pkg/types"
)

// CreateUser inserts an active customer with a unique email and phone.
func CreateUser(t testing.TB, conn *gorm.DB) *models.User {
	t.Helper()
	id := uuid.New()
	user := &models.User{
		ID:           id,
		Name:         "Test Player",
		Email:        fmt.Sprintf("player_%s@example.com", id.String()[:8]),
		Phone:        fmt.Sprintf("010%08d", id.ID()%100000000),
		PasswordHash: "hash",
		Role:         enums.UserRoleCustomer,
		Status:       enums.UserStatusActive,
		Level:        enums.UserLevelNew,
	}
	if err := conn.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// CreateProduct inserts an active product with a player id field. mutate may
// adjust the row before insert.
func CreateProduct(t testing.TB, conn *gorm.DB, mutate func(*models.Product)) *models.Product {
	t.Helper()
	product := &models.Product{
		GameID:          "pubg",
		Name:            "PUBG UC",
		Category:        "pubg",
		UnitPrice:       100,
		DefaultQuantity: 60,
		MinQuantity:     1,
		MaxQuantity:     1000,
		Currency:        "EGP",
		FulfillmentSchema: types.FulfillmentSchema{
			{Name: "playerId", Label: "Player ID", Type: enums.FulfillmentFieldText, Required: true},
		},
		Active: true,
	}
	if mutate != nil {
		mutate(product)
	}
	if err := conn.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}
