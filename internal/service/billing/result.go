package billing

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
	"github.com/vladislavdragonenkov/farmops/internal/validation"
)

// Имена операций для логов и метки "transition" в метриках.
const (
	opRequest = "request"
	opUpdate  = "update"
	opApprove = "approve"
	opReject  = "reject"
	opConfirm = "confirm"
	opCancel  = "cancel"
	opDisable = "disable"
	opGet     = "get"
	opList    = "list"
)

var successMessages = map[string]string{
	opRequest: domain.MsgRequestSucceeded,
	opUpdate:  domain.MsgUpdateSucceeded,
	opApprove: domain.MsgApproveSucceeded,
	opReject:  domain.MsgRejectSucceeded,
	opConfirm: domain.MsgConfirmSucceeded,
	opCancel:  domain.MsgCancelSucceeded,
	opDisable: domain.MsgDisableSucceeded,
	opGet:     domain.MsgGetSucceeded,
	opList:    domain.MsgListSucceeded,
}

// failureMessage выбирает локализованное сообщение для err.
func failureMessage(kind domain.ItemKind, err error) string {
	switch domain.Classify(err) {
	case domain.ErrorKindNotAuthenticated:
		return domain.MsgNotAuthenticated
	case domain.ErrorKindNotFound:
		switch {
		case errors.Is(err, domain.ErrCircleNotFound):
			return domain.MsgCircleNotFound
		case errors.Is(err, domain.ErrItemNotFound):
			return domain.MsgItemNotFound
		default:
			return domain.MsgBillNotFound
		}
	case domain.ErrorKindStateConflict:
		switch {
		case errors.Is(err, domain.ErrBillVersionConflict):
			return domain.MsgVersionConflict
		case errors.Is(err, domain.ErrCircleNotGrowing):
			return domain.MsgCircleNotGrowing
		default:
			return domain.MsgStatusConflict
		}
	case domain.ErrorKindValidation:
		if isQueryError(err) {
			return domain.MsgInvalidQuery
		}
		if msg := validation.Message(kind, err); msg != domain.MsgOperationFailed {
			return msg
		}
		return domain.MsgInvalidRequest
	default:
		return domain.MsgOperationFailed + ": " + err.Error()
	}
}

func isQueryError(err error) bool {
	return errors.Is(err, query.ErrUnknownField) ||
		errors.Is(err, query.ErrInvalidPage) ||
		errors.Is(err, query.ErrInvalidDirection) ||
		errors.Is(err, query.ErrNotSearchable)
}

// finish превращает исход операции в конверт, логирует и считает его.
func finish[T any](s *service, op string, kind domain.ItemKind, started time.Time, data T, err error, fields log.Fields) domain.Result[T] {
	if s.metrics != nil {
		s.metrics.ObserveTransition(op, err == nil, time.Since(started))
	}
	if err == nil {
		return domain.Ok(successMessages[op], data)
	}

	entry := s.logger.WithError(err).WithFields(fields).WithField("op", op)
	switch domain.Classify(err) {
	case domain.ErrorKindInfrastructure:
		entry.Error("bill operation failed")
	default:
		entry.Info("bill operation rejected")
	}
	return domain.Fail[T](failureMessage(kind, err), err)
}
