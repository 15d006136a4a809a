package grpcsvc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// Client вызывает методы BillService и StockService с обычными map.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call вызывает fullMethod, например MethodApproveBill, и возвращает конверт ответа.
func (c *Client) Call(ctx context.Context, fullMethod string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", fullMethod, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WithActor добавляет личность вызывающего в исходящие metadata.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ActorIDHeader, actor.ID, ActorRoleHeader, string(actor.Role))
}

func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, IdempotencyKeyHeader, key)
}

// Data возвращает объект "data" из конверта ответа.
func Data(env *structpb.Struct) map[string]any {
	if env == nil {
		return nil
	}
	data, _ := env.AsMap()["data"].(map[string]any)
	return data
}
