package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
)

// ParseQueryInt reads an optional integer query parameter bounded to [min, max].
func ParseQueryInt(r *http.Request, key string, fallback, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be an integer").
			WithDetails(map[string]string{key: "must be an integer"})
	}
	if n < min || n > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").
			WithDetails(map[string]string{key: "must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max)})
	}
	return n, nil
}
