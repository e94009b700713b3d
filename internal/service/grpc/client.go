package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/ttejuosho/akubata/internal/service/api"
)

// CartServiceClient: клиент akubata.v1.CartService с JSON-кодеком.
type CartServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCartServiceClient создаёт клиента поверх соединения.
func NewCartServiceClient(cc grpc.ClientConnInterface) *CartServiceClient {
	return &CartServiceClient{cc: cc}
}

// WithUser добавляет x-user-id в исходящие метаданные.
func WithUser(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataUserID, userID)
}

// WithIdempotencyKey добавляет idempotency-key в исходящие метаданные.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataIdempotencyKey, key)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CartServiceClient) GetCart(ctx context.Context, opts ...grpc.CallOption) (*api.Cart, error) {
	return invoke[api.Cart](ctx, c.cc, "GetCart", &api.Empty{}, opts)
}

func (c *CartServiceClient) AddItem(ctx context.Context, in *api.ItemRequest, opts ...grpc.CallOption) (*api.Cart, error) {
	return invoke[api.Cart](ctx, c.cc, "AddItem", in, opts)
}

func (c *CartServiceClient) UpdateItem(ctx context.Context, in *api.ItemRequest, opts ...grpc.CallOption) (*api.Cart, error) {
	return invoke[api.Cart](ctx, c.cc, "UpdateItem", in, opts)
}

func (c *CartServiceClient) RemoveItem(ctx context.Context, in *api.ItemRequest, opts ...grpc.CallOption) (*api.Cart, error) {
	return invoke[api.Cart](ctx, c.cc, "RemoveItem", in, opts)
}

func (c *CartServiceClient) ClearCart(ctx context.Context, opts ...grpc.CallOption) (*api.Cart, error) {
	return invoke[api.Cart](ctx, c.cc, "ClearCart", &api.Empty{}, opts)
}

func (c *CartServiceClient) Checkout(ctx context.Context, in *api.CheckoutRequest, opts ...grpc.CallOption) (*api.Order, error) {
	return invoke[api.Order](ctx, c.cc, "Checkout", in, opts)
}

func (c *CartServiceClient) ListOrders(ctx context.Context, in *api.ListOrdersRequest, opts ...grpc.CallOption) (*api.OrderList, error) {
	return invoke[api.OrderList](ctx, c.cc, "ListOrders", in, opts)
}

func (c *CartServiceClient) GetOrder(ctx context.Context, in *api.GetOrderRequest, opts ...grpc.CallOption) (*api.Order, error) {
	return invoke[api.Order](ctx, c.cc, "GetOrder", in, opts)
}

func (c *CartServiceClient) CreateProduct(ctx context.Context, in *api.CreateProductRequest, opts ...grpc.CallOption) (*api.Product, error) {
	return invoke[api.Product](ctx, c.cc, "CreateProduct", in, opts)
}

func (c *CartServiceClient) Restock(ctx context.Context, in *api.RestockRequest, opts ...grpc.CallOption) (*api.Product, error) {
	return invoke[api.Product](ctx, c.cc, "Restock", in, opts)
}

func (c *CartServiceClient) Reprice(ctx context.Context, in *api.RepriceRequest, opts ...grpc.CallOption) (*api.Product, error) {
	return invoke[api.Product](ctx, c.cc, "Reprice", in, opts)
}
