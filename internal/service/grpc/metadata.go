package grpcsvc

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/service/idempotency"
)

const (
	ActorIDHeader        = "x-actor-id"
	ActorRoleHeader      = "x-actor-role"
	IdempotencyKeyHeader = "idempotency-key"
)

func header(ctx context.Context, name string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(name)
		if len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

// actorFromContext читает вызывающего из metadata. Без id получается
// неаутентифицированный actor, и движок его отклоняет.
func actorFromContext(ctx context.Context) domain.Actor {
	return domain.Actor{
		ID:   header(ctx, ActorIDHeader),
		Role: domain.ActorRole(strings.ToLower(header(ctx, ActorRoleHeader))),
	}
}

type failurePayload struct {
	Code     int32           `json:"code"`
	Message  string          `json:"message"`
	Envelope json.RawMessage `json:"envelope,omitempty"`
}

// withIdempotency выполняет call не больше одного раза на idempotency-key. Без guard
// или ключа вызов идёт напрямую.
func withIdempotency(
	ctx context.Context,
	guard *idempotency.Guard,
	logger *log.Entry,
	method string,
	req *structpb.Struct,
	call func(context.Context) (*structpb.Struct, error),
) (*structpb.Struct, error) {
	key := header(ctx, IdempotencyKeyHeader)
	if guard == nil || key == "" {
		return call(ctx)
	}

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	replay, err := guard.Begin(key, idempotency.RequestHash(method, data))
	if err != nil {
		return nil, idempotencyStatus(err)
	}
	if replay != nil {
		return decodeReplay(replay)
	}

	resp, runErr := call(ctx)
	if runErr != nil {
		body, code := encodeFailure(runErr)
		guard.Fail(key, body, int(code))
		return nil, runErr
	}

	body, err := protojson.Marshal(resp)
	if err != nil {
		logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotent response")
	}
	guard.Succeed(key, body, int(codes.OK))
	return resp, nil
}

func encodeFailure(err error) ([]byte, codes.Code) {
	st := status.Convert(err)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}
	payload := failurePayload{Code: int32(code), Message: st.Message()} //nolint:gosec // bounded enum
	if env, ok := Envelope(err); ok {
		if raw, err := protojson.Marshal(env); err == nil {
			payload.Envelope = raw
		}
	}
	body, _ := json.Marshal(payload)
	return body, code
}

func decodeReplay(replay *idempotency.Replay) (*structpb.Struct, error) {
	if !replay.Failed {
		if len(replay.Body) == 0 {
			return nil, status.Error(codes.Internal, "idempotency cache is empty")
		}
		resp := new(structpb.Struct)
		if err := protojson.Unmarshal(replay.Body, resp); err != nil {
			return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		return resp, nil
	}

	var payload failurePayload
	if err := json.Unmarshal(replay.Body, &payload); err != nil || payload.Code <= 0 || payload.Code > int32(codes.Unauthenticated) {
		return nil, status.Error(codes.Internal, "previous request with the same idempotency key failed")
	}
	var env *structpb.Struct
	if len(payload.Envelope) > 0 {
		env = new(structpb.Struct)
		if err := protojson.Unmarshal(payload.Envelope, env); err != nil {
			env = nil
		}
	}
	return nil, failureStatus(codes.Code(uint32(payload.Code)), payload.Message, env)
}
