package domain

import (
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/farmops/internal/query"
)

var (
	// ErrNotAuthenticated возвращается, если идентификатор actor не передан.
	ErrNotAuthenticated = errors.New("actor is not authenticated")

	// ErrBillNotFound покрывает отсутствующие и мягко удалённые счета.
	ErrBillNotFound = errors.New("bill not found")
	// ErrItemNotFound возвращается, если складская запись не существует.
	ErrItemNotFound = errors.New("inventory item not found")
	// ErrCircleNotFound покрывает отсутствующие и неактивные циклы.
	ErrCircleNotFound = errors.New("livestock circle not found")
	ErrBarnNotFound   = errors.New("barn not found")
	// ErrTransitionNotFound возвращается журналом саги.
	ErrTransitionNotFound = errors.New("bill transition not found")

	// ErrBillStatusConflict означает, что операция недопустима в текущем статусе.
	ErrBillStatusConflict = errors.New("bill status does not allow this operation")
	// ErrBillVersionConflict сигнализирует о конкурентном сохранении того же счёта.
	ErrBillVersionConflict = errors.New("bill version conflict")
	// ErrCircleNotGrowing возвращается, если подтверждённые запасы попали бы в закрытый цикл.
	ErrCircleNotGrowing = errors.New("livestock circle does not accept stock")
	ErrAlreadyExists    = errors.New("record already exists")

	ErrItemsRequired     = errors.New("bill must contain at least one item")
	ErrQuantityInvalid   = errors.New("quantity must be greater than zero")
	ErrItemInactive      = errors.New("inventory item is inactive")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrMixedItemKinds    = errors.New("bill items mix inventory kinds")
	ErrUnknownItemKind   = errors.New("unknown item kind")
	ErrItemIDRequired    = errors.New("item id is required")
	ErrItemNameRequired  = errors.New("item name is required")
	ErrStockNegative     = errors.New("stock must be non-negative")
	ErrUnitValueNegative = errors.New("unit price and weight must be non-negative")
	ErrCircleIDRequired  = errors.New("livestock_circle_id is required")
	ErrRequesterRequired = errors.New("user_request_id is required")
	ErrBillStatusInvalid = errors.New("bill status is invalid")
	ErrBillTypeMismatch  = errors.New("bill type does not match operation")
	// ErrInvalidArgument оборачивает ошибки вызывающего без более узкого sentinel.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutboxPublish возвращается, если outbox-сообщение не удалось опубликовать.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyInProgress          = errors.New("idempotency key is still processing")
)

// ErrorKind задаёт крупное семейство ошибок, видимое вызывающему.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindNotAuthenticated ErrorKind = "not_authenticated"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindStateConflict    ErrorKind = "state_conflict"
	ErrorKindValidation       ErrorKind = "validation"
	ErrorKindInfrastructure   ErrorKind = "infrastructure"
)

// Classify отображает ошибку на таксономию для вызывающего.
// Всё без известного sentinel считается сбоем инфраструктуры.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrNotAuthenticated):
		return ErrorKindNotAuthenticated
	case isLineError(err):
		// строка счёта, ссылающаяся на отсутствующую позицию, считается ошибкой валидации счёта
		return ErrorKindValidation
	case errors.Is(err, ErrBillNotFound),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrCircleNotFound),
		errors.Is(err, ErrBarnNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrBillStatusConflict),
		errors.Is(err, ErrBillVersionConflict),
		errors.Is(err, ErrCircleNotGrowing),
		errors.Is(err, ErrAlreadyExists):
		return ErrorKindStateConflict
	case isValidation(err):
		return ErrorKindValidation
	default:
		return ErrorKindInfrastructure
	}
}

func isLineError(err error) bool {
	var lineErr *LineError
	return errors.As(err, &lineErr)
}

func isValidation(err error) bool {
	for _, target := range []error{
		ErrItemsRequired, ErrQuantityInvalid, ErrItemInactive,
		ErrInsufficientStock, ErrMixedItemKinds, ErrUnknownItemKind, ErrItemIDRequired,
		ErrItemNameRequired, ErrStockNegative, ErrUnitValueNegative, ErrCircleIDRequired,
		ErrRequesterRequired, ErrBillStatusInvalid, ErrBillTypeMismatch, ErrInvalidArgument,
		query.ErrUnknownField, query.ErrInvalidPage, query.ErrInvalidDirection, query.ErrNotSearchable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// LineError указывает строку счёта, не прошедшую проверку.
type LineError struct {
	Ref ItemRef
	Err error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("item %s: %v", e.Ref, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// IsVersionConflict сообщает, является ли err конфликтом оптимистичной блокировки.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrBillVersionConflict)
}

// IsIdempotencyConflict сообщает, что ключ нельзя использовать для этого запроса.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
