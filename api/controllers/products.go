package controllers

import (
	"net/http"
	"strings"

	"github.com/coinsacademy/topup-backend/api/controllers/requestctx"
	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/api/validators"
	"github.com/coinsacademy/topup-backend/internal/catalog"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/pagination"
)

// ProductList returns one page of active products, optionally filtered by
// category.
func ProductList(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListProducts(r.Context(), catalog.ListProductsInput{
			Category: strings.TrimSpace(r.URL.Query().Get("category")),
			Limit:    limit,
			Cursor:   strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func ProductCategories(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		categories, err := svc.ListCategories(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, categories)
	}
}

func ProductDetail(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		productID, err := requestctx.URLParamUUID(r, "productId", "product id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := svc.GetProduct(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, product)
	}
}
