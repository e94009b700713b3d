package grpcsvc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ttejuosho/akubata/internal/service/api"
)

// ServiceName: полное имя gRPC-сервиса.
const ServiceName = "akubata.v1.CartService"

// CartServiceServer: серверная сторона akubata.v1.CartService.
type CartServiceServer interface {
	GetCart(context.Context, *api.Empty) (*api.Cart, error)
	AddItem(context.Context, *api.ItemRequest) (*api.Cart, error)
	UpdateItem(context.Context, *api.ItemRequest) (*api.Cart, error)
	RemoveItem(context.Context, *api.ItemRequest) (*api.Cart, error)
	ClearCart(context.Context, *api.Empty) (*api.Cart, error)
	Checkout(context.Context, *api.CheckoutRequest) (*api.Order, error)
	ListOrders(context.Context, *api.ListOrdersRequest) (*api.OrderList, error)
	GetOrder(context.Context, *api.GetOrderRequest) (*api.Order, error)
	CreateProduct(context.Context, *api.CreateProductRequest) (*api.Product, error)
	Restock(context.Context, *api.RestockRequest) (*api.Product, error)
	Reprice(context.Context, *api.RepriceRequest) (*api.Product, error)
}

// CartServiceDesc описывает сервис без сгенерированного protobuf-кода;
// сообщения передаются кодеком json.
var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetCart", CartServiceServer.GetCart),
		unary("AddItem", CartServiceServer.AddItem),
		unary("UpdateItem", CartServiceServer.UpdateItem),
		unary("RemoveItem", CartServiceServer.RemoveItem),
		unary("ClearCart", CartServiceServer.ClearCart),
		unary("Checkout", CartServiceServer.Checkout),
		unary("ListOrders", CartServiceServer.ListOrders),
		unary("GetOrder", CartServiceServer.GetOrder),
		unary("CreateProduct", CartServiceServer.CreateProduct),
		unary("Restock", CartServiceServer.Restock),
		unary("Reprice", CartServiceServer.Reprice),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "akubata/v1/cart_service",
}

// RegisterCartServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterCartServiceServer(s grpc.ServiceRegistrar, srv CartServiceServer) {
	s.RegisterService(&CartServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](
	method string,
	call func(CartServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CartServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CartServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
