package web

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/vowselect/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("room 3: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("bad score: %w", domain.ErrInvalidInput), http.StatusBadRequest},
		{domain.ErrSourceEmpty, http.StatusBadRequest},
		{fmt.Errorf("list folder: %w", domain.ErrUnauthorized), http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("failed to create user: %w", domain.ErrNameTaken), http.StatusConflict},
		{domain.ErrUpstream, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusTeapot, "nope")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"nope"}`, rec.Body.String())
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?skip=5&limit=abc", nil)

	n, err := queryInt(r, "skip", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = queryInt(r, "missing", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	_, err = queryInt(r, "limit", 50)
	assert.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"alice"}`))
	require.NoError(t, decodeJSON(httptest.NewRecorder(), r, &dst))
	assert.Equal(t, "alice", dst.Name)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.EqualError(t, decodeJSON(httptest.NewRecorder(), r, &dst), "request body required")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	assert.Error(t, decodeJSON(httptest.NewRecorder(), r, &dst))
}

func TestDecodeJSONLimit(t *testing.T) {
	var dst struct {
		Data string `json:"data"`
	}
	body := `{"data":"` + strings.Repeat("A", 2*maxJSONBody) + `"}`

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	assert.Error(t, decodeJSON(httptest.NewRecorder(), r, &dst), "default limit rejects large bodies")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	require.NoError(t, decodeJSONLimit(httptest.NewRecorder(), r, &dst, maxImportBody))
	assert.Len(t, dst.Data, 2*maxJSONBody)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	assert.ErrorContains(t, decodeJSONLimit(httptest.NewRecorder(), r, &dst, 1024), "too large")
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Empty(t, bearerToken(r))

	r.Header.Set("Authorization", "Bearer abc.def")
	assert.Equal(t, "abc.def", bearerToken(r))

	r.Header.Set("Authorization", "bearer xyz")
	assert.Equal(t, "xyz", bearerToken(r))

	r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	assert.Empty(t, bearerToken(r))
}

func TestDecodeUploads(t *testing.T) {
	items, err := decodeUploads([]uploadedFile{
		{Name: "a.jpg", Data: base64.StdEncoding.EncodeToString([]byte("abc"))},
		{Data: base64.StdEncoding.EncodeToString([]byte("xyz"))},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.jpg", items[0].Name)
	assert.Equal(t, []byte("abc"), items[0].Data)
	assert.Equal(t, "upload_1", items[1].Name)

	_, err = decodeUploads([]uploadedFile{{Name: "bad", Data: "!!!"}})
	assert.ErrorContains(t, err, "invalid base64")
}
