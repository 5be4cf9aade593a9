package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashmemo/m/domain"
	"cashmemo/m/internal/config"
	"cashmemo/m/internal/database"
	"cashmemo/m/internal/migrations"
)

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	db := database.Connect(":memory:")
	migrations.Run(db)
	t.Cleanup(func() { db.Close() })

	cfg := config.Config{
		Secret:        "test_secret",
		AdminEmail:    "admin@inventory.com",
		AdminPassword: "admin123",
		UploadDir:     t.TempDir(),
	}
	h := New(db, cfg)
	return h, h.Router()
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func loginAdmin(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/auth/init", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "admin@inventory.com",
		"password": "admin123",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func createTestProduct(t *testing.T, router http.Handler, token, name string, price float64, quantity int64) domain.Product {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/products", token, map[string]any{
		"name":        name,
		"description": "",
		"price":       price,
		"quantity":    quantity,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var product domain.Product
	decodeBody(t, rec, &product)
	return product
}

func TestHealth(t *testing.T) {
	_, router := newTestHandler(t)
	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitAdminIsIdempotent(t *testing.T) {
	h, router := newTestHandler(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/init", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "created")

	rec = doJSON(t, router, http.MethodPost, "/auth/init", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")

	var count int64
	require.NoError(t, h.db.Get(&count, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, int64(1), count)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, router := newTestHandler(t)
	doJSON(t, router, http.MethodPost, "/auth/init", "", nil)

	rec := doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "admin@inventory.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "nobody@inventory.com",
		"password": "admin123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	_, router := newTestHandler(t)

	rec := doJSON(t, router, http.MethodGet, "/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/sales", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProductCRUD(t *testing.T) {
	_, router := newTestHandler(t)
	token := loginAdmin(t, router)

	created := createTestProduct(t, router, token, "Widget", 5.00, 10)
	assert.Equal(t, "Widget", created.Name)
	assert.Equal(t, int64(10), created.Quantity)

	rec := doJSON(t, router, http.MethodGet, "/products", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []domain.Product
	decodeBody(t, rec, &listed)
	require.Len(t, listed, 1)

	rec = doJSON(t, router, http.MethodPut, "/products/1", token, map[string]any{
		"name":        "Widget Pro",
		"description": "upgraded",
		"price":       6.50,
		"quantity":    8,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated domain.Product
	decodeBody(t, rec, &updated)
	assert.Equal(t, "Widget Pro", updated.Name)
	assert.Equal(t, int64(8), updated.Quantity)

	rec = doJSON(t, router, http.MethodDelete, "/products/1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/products/1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/products/not-a-number", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductValidation(t *testing.T) {
	_, router := newTestHandler(t)
	token := loginAdmin(t, router)

	rec := doJSON(t, router, http.MethodPost, "/products", token, map[string]any{
		"name":     "",
		"price":    1.00,
		"quantity": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/products", token, map[string]any{
		"name":     "Bad",
		"price":    -1.00,
		"quantity": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductImageUpload(t *testing.T) {
	h, router := newTestHandler(t)
	token := loginAdmin(t, router)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("name", "Camera"))
	require.NoError(t, writer.WriteField("price", "99.99"))
	require.NoError(t, writer.WriteField("quantity", "3"))
	part, err := writer.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("not-a-real-png"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/products", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var product domain.Product
	decodeBody(t, rec, &product)
	require.True(t, strings.HasPrefix(product.Image, "/uploads/product-"), "image = %s", product.Image)

	stored := filepath.Join(h.cfg.UploadDir, strings.TrimPrefix(product.Image, "/uploads/"))
	_, err = os.Stat(stored)
	assert.NoError(t, err, "uploaded file should exist on disk")
}

func TestProductUploadRejectsNonImage(t *testing.T) {
	_, router := newTestHandler(t)
	token := loginAdmin(t, router)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("name", "Doc"))
	require.NoError(t, writer.WriteField("price", "1.00"))
	require.NoError(t, writer.WriteField("quantity", "1"))
	part, err := writer.CreateFormFile("image", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/products", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSaleEndpoint(t *testing.T) {
	_, router := newTestHandler(t)
	token := loginAdmin(t, router)
	product := createTestProduct(t, router, token, "Widget", 5.00, 10)

	rec := doJSON(t, router, http.MethodPost, "/sales", token, map[string]any{
		"customer_phone": "01711111111",
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 3}},
		"discount":       2.00,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sale domain.Sale
	decodeBody(t, rec, &sale)
	assert.Equal(t, "01711111111", sale.CustomerPhone)
	assert.Contains(t, sale.MemoNumber, "MEMO-")
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "Widget", sale.Items[0].ProductName)

	rec = doJSON(t, router, http.MethodGet, "/products/1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var after domain.Product
	decodeBody(t, rec, &after)
	assert.Equal(t, int64(7), after.Quantity)
}

func TestCreateSaleEndpointErrors(t *testing.T) {
	_, router := newTestHandler(t)
	token := loginAdmin(t, router)
	product := createTestProduct(t, router, token, "Widget", 5.00, 2)

	// insufficient stock
	rec := doJSON(t, router, http.MethodPost, "/sales", token, map[string]any{
		"customer_phone": "01722222222",
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 3}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Widget")

	// unknown product
	rec = doJSON(t, router, http.MethodPost, "/sales", token, map[string]any{
		"customer_phone": "01722222222",
		"items":          []map[string]any{{"product_id": 999, "quantity": 1}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// invalid input
	rec = doJSON(t, router, http.MethodPost, "/sales", token, map[string]any{
		"customer_phone": "",
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no partial effect from any of the failures above
	rec = doJSON(t, router, http.MethodGet, "/products/1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var after domain.Product
	decodeBody(t, rec, &after)
	assert.Equal(t, int64(2), after.Quantity)
}

func TestGetAndListSales(t *testing.T) {
	_, router := newTestHandler(t)
	token := loginAdmin(t, router)
	product := createTestProduct(t, router, token, "Widget", 5.00, 10)

	rec := doJSON(t, router, http.MethodPost, "/sales", token, map[string]any{
		"customer_phone": "01733333333",
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Sale
	decodeBody(t, rec, &created)

	rec = doJSON(t, router, http.MethodGet, "/sales", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []domain.Sale
	decodeBody(t, rec, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	rec = doJSON(t, router, http.MethodGet, "/sales/42", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
