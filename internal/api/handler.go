package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"cashmemo/m/domain"
	"cashmemo/m/internal/config"
	"cashmemo/m/internal/sales"
	"cashmemo/m/internal/seed"
)

type ctxKey string

const ctxUserID ctxKey = "userID"

const maxUploadSize = 5 * 1024 * 1024

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db    *sqlx.DB
	sales *sales.Processor
	cfg   config.Config
}

// New constructs a Handler.
func New(db *sqlx.DB, cfg config.Config) *Handler {
	return &Handler{db: db, sales: sales.NewProcessor(db), cfg: cfg}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/init", h.initAdmin)
		r.Post("/login", h.login)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Post("/", h.createProduct)
			r.Get("/{id}", h.getProduct)
			r.Put("/{id}", h.updateProduct)
			r.Delete("/{id}", h.deleteProduct)
		})

		pr.Route("/sales", func(r chi.Router) {
			r.Post("/", h.createSale)
			r.Get("/", h.listSales)
			r.Get("/{id}", h.getSale)
		})
	})

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.cfg.UploadDir))))

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Authentication helpers

type authClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(userID int64) (string, error) {
	claims := authClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(7 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.Secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Auth handlers

func (h *Handler) initAdmin(w http.ResponseWriter, r *http.Request) {
	created, err := seed.EnsureAdmin(h.db, h.cfg.AdminEmail, h.cfg.AdminPassword)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to initialize admin user")
		return
	}
	if !created {
		respondJSON(w, http.StatusOK, map[string]string{"message": "Admin user already exists"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Admin user created successfully"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var user domain.User
	err := h.db.Get(&user, `SELECT id, email, password, role FROM users WHERE email = $1`, strings.ToLower(req.Email))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.generateToken(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	user.Password = ""
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// Product handlers

type productForm struct {
	Name          string
	Description   string
	Price         decimal.Decimal
	Quantity      int64
	Image         string
	ImageUploaded bool
}

// parseProductForm accepts either multipart/form-data (with an optional
// image part) or a plain JSON body.
func (h *Handler) parseProductForm(r *http.Request) (*productForm, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return h.parseMultipartProduct(r)
	}

	var req struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
		Quantity    int64           `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	form := &productForm{Name: strings.TrimSpace(req.Name), Description: req.Description, Price: req.Price, Quantity: req.Quantity}
	return form, form.validate()
}

func (h *Handler) parseMultipartProduct(r *http.Request) (*productForm, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, errors.New("unable to parse form data")
	}

	form := &productForm{
		Name:        strings.TrimSpace(r.FormValue("name")),
		Description: r.FormValue("description"),
	}

	price, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("price")))
	if err != nil {
		return nil, errors.New("price must be a number")
	}
	form.Price = price

	quantity, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("quantity")), 10, 64)
	if err != nil {
		return nil, errors.New("quantity must be an integer")
	}
	form.Quantity = quantity

	file, header, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		imagePath, err := h.saveUpload(file, header)
		if err != nil {
			return nil, err
		}
		form.Image = imagePath
		form.ImageUploaded = true
	} else if !errors.Is(err, http.ErrMissingFile) {
		return nil, errors.New("unable to read image upload")
	}

	return form, form.validate()
}

func (f *productForm) validate() error {
	if f.Name == "" {
		return errors.New("name is required")
	}
	if f.Price.IsNegative() {
		return errors.New("price cannot be negative")
	}
	if f.Quantity < 0 {
		return errors.New("quantity cannot be negative")
	}
	return nil
}

func (h *Handler) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !imageExtensions[ext] {
		return "", errors.New("only image files are allowed")
	}
	if header.Size > maxUploadSize {
		return "", errors.New("image exceeds the 5MB limit")
	}
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return "", errors.New("unable to store image")
	}

	name := "product-" + uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(h.cfg.UploadDir, name))
	if err != nil {
		return "", errors.New("unable to store image")
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", errors.New("unable to store image")
	}
	return "/uploads/" + name, nil
}

func (h *Handler) removeImage(imagePath string) {
	name := strings.TrimPrefix(imagePath, "/uploads/")
	if name == "" || name == imagePath {
		return
	}
	_ = os.Remove(filepath.Join(h.cfg.UploadDir, name))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	var products []domain.Product
	if err := h.db.Select(&products, `SELECT id, name, description, price, image, quantity, created_at, updated_at FROM products ORDER BY created_at DESC, id DESC`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list products")
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	respondJSON(w, http.StatusOK, products)
}

// productID parses the id path parameter. A malformed id behaves like a
// missing row.
func productID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) loadProduct(w http.ResponseWriter, id int64) (*domain.Product, bool) {
	var product domain.Product
	err := h.db.Get(&product, `SELECT id, name, description, price, image, quantity, created_at, updated_at FROM products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "Product not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load product")
		return nil, false
	}
	return &product, true
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}
	product, ok := h.loadProduct(w, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseProductForm(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var id int64
	err = h.db.QueryRowx(`INSERT INTO products (name, description, price, image, quantity) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		form.Name, form.Description, form.Price, form.Image, form.Quantity).Scan(&id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create product")
		return
	}

	product, ok := h.loadProduct(w, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}
	existing, ok := h.loadProduct(w, id)
	if !ok {
		return
	}

	form, err := h.parseProductForm(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	image := existing.Image
	if form.ImageUploaded {
		if existing.Image != "" {
			h.removeImage(existing.Image)
		}
		image = form.Image
	}

	_, err = h.db.Exec(`UPDATE products SET name = $1, description = $2, price = $3, image = $4, quantity = $5, updated_at = CURRENT_TIMESTAMP WHERE id = $6`,
		form.Name, form.Description, form.Price, image, form.Quantity, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update product")
		return
	}

	product, ok := h.loadProduct(w, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		respondError(w, http.StatusNotFound, "Product not found")
		return
	}
	existing, ok := h.loadProduct(w, id)
	if !ok {
		return
	}

	if existing.Image != "" {
		h.removeImage(existing.Image)
	}
	if _, err := h.db.Exec(`DELETE FROM products WHERE id = $1`, id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete product")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Product deleted successfully"})
}

// Sales handlers

type saleRequest struct {
	CustomerPhone string                `json:"customer_phone"`
	Items         []sales.SaleItemInput `json:"items"`
	Discount      decimal.Decimal       `json:"discount"`
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := r.Context().Value(ctxUserID).(int64)
	sale, err := h.sales.CreateSale(r.Context(), sales.CreateSaleInput{
		CustomerPhone: req.CustomerPhone,
		Items:         req.Items,
		Discount:      req.Discount,
		SoldBy:        userID,
	})
	if err != nil {
		var invalid *sales.InvalidInputError
		var notFound *sales.ProductNotFoundError
		var noStock *sales.InsufficientStockError
		switch {
		case errors.As(err, &invalid):
			respondError(w, http.StatusBadRequest, invalid.Error())
		case errors.As(err, &notFound):
			respondError(w, http.StatusNotFound, notFound.Error())
		case errors.As(err, &noStock):
			respondError(w, http.StatusBadRequest, noStock.Error())
		default:
			respondError(w, http.StatusInternalServerError, "unable to create sale")
		}
		return
	}
	respondJSON(w, http.StatusCreated, sale)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	result, err := h.sales.ListSales(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list sales")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusNotFound, "Sale not found")
		return
	}
	sale, err := h.sales.GetSale(r.Context(), id)
	if errors.Is(err, sales.ErrSaleNotFound) {
		respondError(w, http.StatusNotFound, "Sale not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load sale")
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

// Helpers

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
