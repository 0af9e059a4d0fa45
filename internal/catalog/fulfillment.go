package catalog

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/coinsacademy/topup-backend/pkg/enums"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/types"
)

const maxFulfillmentValueLen = 256

var fieldValidator = validator.New()

// ValidateFulfillment checks player-supplied data against a product schema and
// returns the trimmed values for the declared fields only. Problems are
// reported per field as a validation error; the provider rejecting data it
// accepted here is a separate InvalidFulfillmentData failure.
func ValidateFulfillment(schema types.FulfillmentSchema, data types.FulfillmentData) (types.FulfillmentData, error) {
	problems := map[string]string{}
	clean := types.FulfillmentData{}
	declared := make(map[string]struct{}, len(schema))

	for _, field := range schema {
		declared[field.Name] = struct{}{}
		value := strings.TrimSpace(data[field.Name])
		if value == "" {
			if field.Required {
				problems[field.Name] = "is required"
			}
			continue
		}
		if len(value) > maxFulfillmentValueLen {
			problems[field.Name] = fmt.Sprintf("must be at most %d characters", maxFulfillmentValueLen)
			continue
		}
		switch field.Type {
		case enums.FulfillmentFieldEmail:
			if err := fieldValidator.Var(value, "email"); err != nil {
				problems[field.Name] = "must be a valid email"
				continue
			}
		case enums.FulfillmentFieldSelect:
			if !containsOption(field.Options, value) {
				problems[field.Name] = "must be one of " + strings.Join(field.Options, ", ")
				continue
			}
		}
		clean[field.Name] = value
	}

	for name := range data {
		if _, ok := declared[name]; !ok {
			problems[name] = "is not a known field"
		}
	}

	if len(problems) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fulfillment data does not match product").
			WithDetails(problems)
	}
	return clean, nil
}

func containsOption(options []string, value string) bool {
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}
