// Package grpcsvc: gRPC-интерфейс корзины (akubata.v1.CartService) с JSON-кодеком.
package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ttejuosho/akubata/internal/domain"
	"github.com/ttejuosho/akubata/internal/service/api"
	"github.com/ttejuosho/akubata/internal/service/idempotency"
)

const (
	// MetadataUserID: идентификатор аутентифицированного пользователя.
	MetadataUserID = "x-user-id"
	// MetadataIdempotencyKey: необязательный ключ идемпотентности мутаций.
	MetadataIdempotencyKey = "idempotency-key"
	// MetadataIdempotentReplay выставляется в заголовке ответа, взятого из хранилища ключей.
	MetadataIdempotentReplay = "idempotent-replayed"
	// MetadataRetryAfter подсказывает клиенту паузу перед повтором после Aborted.
	MetadataRetryAfter = "retry-after"

	retryAfterSeconds = "1"
)

// CartService реализует CartServiceServer поверх движка корзины и каталога.
type CartService struct {
	cart    api.CartEngine
	catalog api.Catalog
	guard   *idempotency.Guard
	logger  *log.Entry
}

// NewCartService создаёт сервис. guard может быть nil: ключи идемпотентности тогда игнорируются.
func NewCartService(cart api.CartEngine, catalog api.Catalog, guard *idempotency.Guard, logger *log.Entry) *CartService {
	if logger == nil {
		logger = log.WithField("layer", "grpc")
	}
	return &CartService{cart: cart, catalog: catalog, guard: guard, logger: logger}
}

func (s *CartService) GetCart(ctx context.Context, _ *api.Empty) (*api.Cart, error) {
	userID, err := userFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	view, err := s.cart.GetCart(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	out := api.NewCart(view)
	return &out, nil
}

func (s *CartService) AddItem(ctx context.Context, req *api.ItemRequest) (*api.Cart, error) {
	return mutate(s, ctx, "AddItem", req, func(ctx context.Context, userID string) (*api.Cart, error) {
		return cartResult(s.cart.AddItem(ctx, userID, req.ProductID, req.Quantity))
	})
}

func (s *CartService) UpdateItem(ctx context.Context, req *api.ItemRequest) (*api.Cart, error) {
	return mutate(s, ctx, "UpdateItem", req, func(ctx context.Context, userID string) (*api.Cart, error) {
		return cartResult(s.cart.UpdateItemQuantity(ctx, userID, req.ProductID, req.Quantity))
	})
}

func (s *CartService) RemoveItem(ctx context.Context, req *api.ItemRequest) (*api.Cart, error) {
	return mutate(s, ctx, "RemoveItem", req, func(ctx context.Context, userID string) (*api.Cart, error) {
		return cartResult(s.cart.RemoveItem(ctx, userID, req.ProductID, req.Quantity))
	})
}

func (s *CartService) ClearCart(ctx context.Context, req *api.Empty) (*api.Cart, error) {
	return mutate(s, ctx, "ClearCart", req, func(ctx context.Context, userID string) (*api.Cart, error) {
		if err := s.cart.ClearCart(ctx, userID); err != nil {
			return nil, err
		}
		return cartResult(domain.EmptyCart(userID), nil)
	})
}

func (s *CartService) Checkout(ctx context.Context, req *api.CheckoutRequest) (*api.Order, error) {
	return mutate(s, ctx, "Checkout", req, func(ctx context.Context, userID string) (*api.Order, error) {
		view, err := s.cart.Checkout(ctx, userID, req.PaymentMethod)
		if err != nil {
			return nil, err
		}
		out := api.NewOrder(view)
		return &out, nil
	})
}

func (s *CartService) ListOrders(ctx context.Context, req *api.ListOrdersRequest) (*api.OrderList, error) {
	userID, err := userFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be >= 0")
	}
	views, err := s.cart.ListOrders(ctx, userID, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	out := api.NewOrderList(views)
	return &out, nil
}

func (s *CartService) GetOrder(ctx context.Context, req *api.GetOrderRequest) (*api.Order, error) {
	userID, err := userFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	view, err := s.cart.GetOrder(ctx, userID, req.OrderID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	out := api.NewOrder(view)
	return &out, nil
}

func (s *CartService) CreateProduct(ctx context.Context, req *api.CreateProductRequest) (*api.Product, error) {
	product, err := req.ToDomain()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return mutate(s, ctx, "CreateProduct", req, func(ctx context.Context, _ string) (*api.Product, error) {
		created, err := s.catalog.CreateProduct(ctx, product)
		if err != nil {
			return nil, err
		}
		out := api.NewProduct(created)
		return &out, nil
	})
}

func (s *CartService) Restock(ctx context.Context, req *api.RestockRequest) (*api.Product, error) {
	return mutate(s, ctx, "Restock", req, func(ctx context.Context, _ string) (*api.Product, error) {
		product, err := s.catalog.Restock(ctx, req.ProductID, req.Quantity)
		if err != nil {
			return nil, err
		}
		out := api.NewProduct(product)
		return &out, nil
	})
}

func (s *CartService) Reprice(ctx context.Context, req *api.RepriceRequest) (*api.Product, error) {
	price, err := req.PriceMinor()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return mutate(s, ctx, "Reprice", req, func(ctx context.Context, _ string) (*api.Product, error) {
		product, err := s.catalog.Reprice(ctx, req.ProductID, price)
		if err != nil {
			return nil, err
		}
		out := api.NewProduct(product)
		return &out, nil
	})
}

// mutate выполняет изменяющий вызов под idempotency-key из метаданных.
// Успех и бизнес-отказы сохраняются и воспроизводятся; Aborted освобождает ключ.
func mutate[Resp any](
	s *CartService,
	ctx context.Context,
	method string,
	req any,
	run func(ctx context.Context, userID string) (*Resp, error),
) (*Resp, error) {
	userID, err := userFromMetadata(ctx)
	if err != nil {
		return nil, err
	}

	var result *Resp
	resp, replayed, err := s.guard.Execute(ctx, readIdempotencyKey(ctx), fullMethod(method)+":"+userID, req,
		func(ctx context.Context) idempotency.Response {
			out, err := run(ctx, userID)
			if err != nil {
				return s.failure(err)
			}
			body, err := json.Marshal(out)
			if err != nil {
				return s.failure(err)
			}
			result = out
			return idempotency.Response{Status: int(codes.OK), Body: body}
		})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	if replayed {
		_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataIdempotentReplay, "true"))
	}
	if resp.Failed {
		if resp.Retryable {
			_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataRetryAfter, retryAfterSeconds))
		}
		return nil, decodeFailure(resp)
	}
	if result != nil {
		return result, nil
	}

	out := new(Resp)
	if err := json.Unmarshal(resp.Body, out); err != nil {
		s.logger.WithError(err).WithField("method", method).Error("failed to decode stored idempotent response")
		return nil, status.Error(codes.Internal, "failed to decode stored response")
	}
	return out, nil
}

// failure переводит ошибку движка в сохраняемый ответ.
func (s *CartService) failure(err error) idempotency.Response {
	code, body := s.classify(err)
	data, _ := json.Marshal(body)
	return idempotency.Response{
		Status:    int(code),
		Body:      data,
		Failed:    true,
		Retryable: errors.Is(err, domain.ErrConflict),
	}
}

func decodeFailure(resp idempotency.Response) error {
	code := codes.Internal
	if resp.Status > int(codes.OK) && resp.Status <= int(codes.Unauthenticated) {
		code = codes.Code(uint32(resp.Status))
	}

	var body api.Error
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Message == "" {
		return status.Error(code, "previous request with the same idempotency key failed")
	}
	return status.Error(code, body.Message)
}

func (s *CartService) toStatus(ctx context.Context, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, domain.ErrConflict) {
		_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataRetryAfter, retryAfterSeconds))
	}
	code, body := s.classify(err)
	return status.Error(code, body.Message)
}

func (s *CartService) classify(err error) (codes.Code, api.Error) {
	body := api.NewError(err)
	code := grpcCode(body.Code)
	if code == codes.Internal {
		s.logger.WithError(err).Error("grpc call failed")
	}
	return code, body
}

func grpcCode(code string) codes.Code {
	switch code {
	case api.CodeProductNotFound, api.CodeCartNotFound, api.CodeOrderNotFound:
		return codes.NotFound
	case api.CodeInsufficientStock, api.CodeEmptyCart, api.CodeInvalidTransition, api.CodePaymentDeclined:
		return codes.FailedPrecondition
	case api.CodeConflict:
		return codes.Aborted
	case api.CodeInvalidQuantity, api.CodeInvalidArgument, api.CodeIdempotencyMismatch:
		return codes.InvalidArgument
	case api.CodeProductExists, api.CodeIdempotencyInProgress:
		return codes.AlreadyExists
	case api.CodeUnauthenticated:
		return codes.Unauthenticated
	default:
		return codes.Internal
	}
}

func cartResult(view domain.CartView, err error) (*api.Cart, error) {
	if err != nil {
		return nil, err
	}
	out := api.NewCart(view)
	return &out, nil
}

func userFromMetadata(ctx context.Context) (string, error) {
	if userID := firstValue(ctx, MetadataUserID); userID != "" {
		return userID, nil
	}
	return "", status.Error(codes.Unauthenticated, MetadataUserID+" metadata is required")
}

func readIdempotencyKey(ctx context.Context) string {
	return firstValue(ctx, MetadataIdempotencyKey)
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(key) {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

var _ CartServiceServer = (*CartService)(nil)
