package grpcsvc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// CodeForKind отображает семейство ошибок для вызывающего на код gRPC.
func CodeForKind(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.ErrorKindNone:
		return codes.OK
	case domain.ErrorKindNotAuthenticated:
		return codes.Unauthenticated
	case domain.ErrorKindNotFound:
		return codes.NotFound
	case domain.ErrorKindStateConflict:
		return codes.FailedPrecondition
	case domain.ErrorKindValidation:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// envelope задаёт сетевую форму domain.Result: succeeded, message, data, errors.
func envelope(succeeded bool, message string, data map[string]any, errs []string) (*structpb.Struct, error) {
	list := make([]any, 0, len(errs))
	for _, e := range errs {
		list = append(list, e)
	}
	body := map[string]any{
		"succeeded": succeeded,
		"message":   message,
		"errors":    list,
	}
	if data != nil {
		body["data"] = data
	}
	return structpb.NewStruct(body)
}

// respond превращает Result в ответ или в ошибку статуса, в detail которой
// лежит тот же конверт.
func respond[T any](res domain.Result[T], encode func(T) map[string]any) (*structpb.Struct, error) {
	var data map[string]any
	if res.Succeeded && encode != nil {
		data = encode(res.Data)
	}
	env, err := envelope(res.Succeeded, res.Message, data, res.Errors)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	if res.Succeeded {
		return env, nil
	}
	return nil, failureStatus(CodeForKind(res.Kind()), res.Message, env)
}

// respondErr сообщает обычную ошибку сервиса в том конверте, который
// построил бы для неё движок счетов.
func respondErr(message string, err error) error {
	env, encErr := envelope(false, message, nil, []string{err.Error()})
	if encErr != nil {
		env = nil
	}
	return failureStatus(CodeForKind(domain.Classify(err)), message, env)
}

func invalidRequest(err error) error {
	return respondErr(domain.MsgInvalidRequest, err)
}

func failureStatus(code codes.Code, message string, env *structpb.Struct) error {
	if code == codes.OK {
		code = codes.Internal
	}
	st := status.New(code, message)
	if env != nil {
		if detailed, err := st.WithDetails(env); err == nil {
			st = detailed
		}
	}
	return st.Err()
}

// Envelope достаёт конверт сбоя из ошибки статуса, возвращённой сервисами.
func Envelope(err error) (*structpb.Struct, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, detail := range st.Details() {
		if env, ok := detail.(*structpb.Struct); ok {
			return env, true
		}
	}
	return nil, false
}

func idempotencyStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	default:
		return status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}
