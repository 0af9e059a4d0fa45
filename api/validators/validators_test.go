package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
)

type signup struct {
	Name  string `json:"name" validate:"required,min=2"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required,phone"`
	Count int    `json:"count" validate:"gt=0"`
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func detailsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, _ := typed.Details().(map[string]string)
	return details
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var got signup
	err := DecodeJSONBody(post(`{"name":"Mona","email":"mona@example.com","phone":"+20 101 234 5678","count":2}`), &got)
	require.NoError(t, err)
	require.Equal(t, "Mona", got.Name)
}

func TestDecodeJSONBodyFieldErrorsUseJSONNames(t *testing.T) {
	var got signup
	err := DecodeJSONBody(post(`{"name":"M","email":"nope","phone":"abc","count":0}`), &got)
	details := detailsOf(t, err)
	require.Equal(t, map[string]string{
		"name":  "must be at least 2",
		"email": "must be a valid email",
		"phone": "must be a phone number",
		"count": "must be greater than 0",
	}, details)
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":    ``,
		"syntax":   `{"name":`,
		"trailing": `{"name":"Mona","email":"m@example.com","phone":"0101234567","count":1} {}`,
		"unknown":  `{"nickname":"m"}`,
		"type":     `{"count":"two"}`,
		"oversize": `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		var got signup
		err := DecodeJSONBody(post(body), &got)
		require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "%s: got %v", name, err)
	}

	var got signup
	details := detailsOf(t, DecodeJSONBody(post(`{"nickname":"m"}`), &got))
	require.Equal(t, "is not allowed", details["nickname"])
	details = detailsOf(t, DecodeJSONBody(post(`{"count":"two"}`), &got))
	require.Contains(t, details, "count")
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&page=x&size=500", nil)

	n, err := ParseQueryInt(req, "limit", 10, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 20, n)

	n, err = ParseQueryInt(req, "missing", 10, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	_, err = ParseQueryInt(req, "page", 1, 1, 100)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	_, err = ParseQueryInt(req, "size", 10, 1, 100)
	require.Equal(t, "must be between 1 and 100", detailsOf(t, err)["size"])
}

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  refund\tfor   order\n42 ", 0, "refund for order 42"},
		{"bell\x07char", 0, "bellchar"},
		{"ملاحظة طويلة جدا", 6, "ملاحظة"},
		{"abc def", 4, "abc"},
		{"", 10, ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, SanitizeString(tc.in, tc.max), "input %q", tc.in)
	}
}
