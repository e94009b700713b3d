// Package httpapi: HTTP/JSON интерфейс корзины, заказов и каталога.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/service/api"
	"github.com/ttejuosho/akubata/internal/service/idempotency"
)

const (
	// HeaderUserID: идентификатор аутентифицированного пользователя, проставляется шлюзом.
	HeaderUserID = "X-User-ID"
	// HeaderIdempotencyKey: необязательный ключ идемпотентности мутирующих запросов.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из хранилища ключей.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	retryAfterSeconds = "1"
	requestTimeout    = 15 * time.Second
	maxBodyBytes      = 1 << 20
)

// Handler обслуживает /api/*.
type Handler struct {
	cart    api.CartEngine
	catalog api.Catalog
	guard   *idempotency.Guard
	logger  *log.Entry
}

// Option настраивает Handler.
type Option func(*Handler)

// WithGuard включает обработку Idempotency-Key.
func WithGuard(guard *idempotency.Guard) Option {
	return func(h *Handler) { h.guard = guard }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler создаёт обработчик поверх движка корзины и каталога.
func NewHandler(cart api.CartEngine, catalog api.Catalog, opts ...Option) *Handler {
	h := &Handler{
		cart:    cart,
		catalog: catalog,
		logger:  log.WithField("layer", "http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes возвращает роутер со всеми маршрутами и middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Timeout(requestTimeout))
	h.Register(r)
	return r
}

// Register вешает маршруты /api на роутер.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/carts", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Post("/", h.addItem)
			r.Put("/", h.updateItem)
			r.Delete("/", h.clearCart)
			r.Post("/remove", h.removeItem)
			r.Post("/checkout", h.checkout)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.Get("/{orderID}", h.getOrder)
		})
		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.createProduct)
			r.Post("/{productID}/restock", h.restock)
			r.Put("/{productID}/price", h.reprice)
		})
	})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	view, err := h.cart.GetCart(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewCart(view))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req api.ItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := userFromContext(r.Context())
	h.mutate(w, r, "cart.add", req, func(ctx context.Context) (int, any, error) {
		view, err := h.cart.AddItem(ctx, userID, req.ProductID, req.Quantity)
		return http.StatusOK, api.NewCart(view), err
	})
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req api.ItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := userFromContext(r.Context())
	h.mutate(w, r, "cart.update", req, func(ctx context.Context) (int, any, error) {
		view, err := h.cart.UpdateItemQuantity(ctx, userID, req.ProductID, req.Quantity)
		return http.StatusOK, api.NewCart(view), err
	})
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	var req api.ItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := userFromContext(r.Context())
	h.mutate(w, r, "cart.remove", req, func(ctx context.Context) (int, any, error) {
		view, err := h.cart.RemoveItem(ctx, userID, req.ProductID, req.Quantity)
		return http.StatusOK, api.NewCart(view), err
	})
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	h.mutate(w, r, "cart.clear", api.Empty{}, func(ctx context.Context) (int, any, error) {
		if err := h.cart.ClearCart(ctx, userID); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, api.NewCart(domain.EmptyCart(userID)), nil
	})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req api.CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := userFromContext(r.Context())
	h.mutate(w, r, "cart.checkout", req, func(ctx context.Context) (int, any, error) {
		view, err := h.cart.Checkout(ctx, userID, req.PaymentMethod)
		return http.StatusCreated, api.NewOrder(view), err
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	views, err := h.cart.ListOrders(r.Context(), userFromContext(r.Context()), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewOrderList(views))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.cart.GetOrder(r.Context(), userFromContext(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewOrder(view))
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req api.CreateProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := req.ToDomain()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	h.mutate(w, r, "product.create", req, func(ctx context.Context) (int, any, error) {
		created, err := h.catalog.CreateProduct(ctx, product)
		return http.StatusCreated, api.NewProduct(created), err
	})
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	var req api.RestockRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.ProductID = chi.URLParam(r, "productID")
	h.mutate(w, r, "product.restock", req, func(ctx context.Context) (int, any, error) {
		product, err := h.catalog.Restock(ctx, req.ProductID, req.Quantity)
		return http.StatusOK, api.NewProduct(product), err
	})
}

func (h *Handler) reprice(w http.ResponseWriter, r *http.Request) {
	var req api.RepriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.ProductID = chi.URLParam(r, "productID")
	price, err := req.PriceMinor()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	h.mutate(w, r, "product.reprice", req, func(ctx context.Context) (int, any, error) {
		product, err := h.catalog.Reprice(ctx, req.ProductID, price)
		return http.StatusOK, api.NewProduct(product), err
	})
}

// mutate выполняет изменяющий запрос под Idempotency-Key, если он передан.
// Конфликт блокировок не сохраняется: повтор с тем же ключом выполнится заново.
func (h *Handler) mutate(
	w http.ResponseWriter,
	r *http.Request,
	scope string,
	request any,
	run func(ctx context.Context) (int, any, error),
) {
	userID := userFromContext(r.Context())
	resp, replayed, err := h.guard.Execute(r.Context(), r.Header.Get(HeaderIdempotencyKey), scope+":"+userID, request,
		func(ctx context.Context) idempotency.Response {
			status, body, err := run(ctx)
			if err != nil {
				return h.errorResponse(err)
			}
			data, err := json.Marshal(body)
			if err != nil {
				return h.errorResponse(fmt.Errorf("encode response: %w", err))
			}
			return idempotency.Response{Status: status, Body: data}
		})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if replayed {
		w.Header().Set(HeaderIdempotentReplay, "true")
	}
	if resp.Retryable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeRaw(w, resp.Status, resp.Body)
}

func (h *Handler) errorResponse(err error) idempotency.Response {
	status, body := h.classify(err)
	data, _ := json.Marshal(body)
	return idempotency.Response{
		Status:    status,
		Body:      data,
		Failed:    true,
		Retryable: errors.Is(err, domain.ErrConflict),
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, body := h.classify(err)
	if errors.Is(err, domain.ErrConflict) {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, body)
}

func (h *Handler) classify(err error) (int, api.Error) {
	body := api.NewError(err)
	status := httpStatus(body.Code)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	return status, body
}

func httpStatus(code string) int {
	switch code {
	case api.CodeProductNotFound, api.CodeCartNotFound, api.CodeOrderNotFound:
		return http.StatusNotFound
	case api.CodeInsufficientStock, api.CodeConflict, api.CodeEmptyCart,
		api.CodeInvalidTransition, api.CodeProductExists, api.CodeIdempotencyInProgress:
		return http.StatusConflict
	case api.CodeInvalidQuantity, api.CodeInvalidArgument:
		return http.StatusBadRequest
	case api.CodeIdempotencyMismatch:
		return http.StatusUnprocessableEntity
	case api.CodePaymentDeclined:
		return http.StatusPaymentRequired
	case api.CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid json body")
		return false
	}
	return true
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, api.Error{Code: api.CodeInvalidArgument, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
