package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
)

// MaxBodyBytes bounds every JSON request body the API accepts.
const MaxBodyBytes = 64 << 10

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so error details match the payload.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}()

// DecodeJSONBody reads exactly one JSON object into dest, rejecting unknown
// fields and trailing data, then runs struct validation.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON object")
	}
	return Struct(dest)
}

// Struct validates an already-populated value.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

func decodeError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return pkgerrors.New(pkgerrors.CodeValidation, "request body is empty")
	case errors.As(err, &sizeErr):
		return pkgerrors.New(pkgerrors.CodeValidation, "request body too large").
			WithDetails(map[string]any{"limitBytes": sizeErr.Limit})
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed JSON")
	case errors.As(err, &typeErr):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "wrong type for field").
			WithDetails(map[string]string{typeErr.Field: "must be " + typeErr.Type.String()})
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown field").
			WithDetails(map[string]string{field: "is not allowed"})
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "phone":
		return "must be a phone number"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "is invalid"
}
