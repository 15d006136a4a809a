package domain

// Result задаёт конверт, который возвращает каждая операция над счётом.
type Result[T any] struct {
	Succeeded bool     `json:"succeeded"`
	Message   string   `json:"message"`
	Data      T        `json:"data,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	// Err хранит типизированную причину для транспорта; не сериализуется.
	Err error `json:"-"`
}

// Ok строит успешный результат.
func Ok[T any](message string, data T) Result[T] {
	return Result[T]{Succeeded: true, Message: message, Data: data}
}

// Fail строит неуспешный результат с err.
func Fail[T any](message string, err error) Result[T] {
	res := Result[T]{Message: message, Err: err}
	if err != nil {
		res.Errors = []string{err.Error()}
	}
	return res
}

// Kind классифицирует сбой. Для успешных результатов это ErrorKindNone.
func (r Result[T]) Kind() ErrorKind {
	if r.Succeeded {
		return ErrorKindNone
	}
	return Classify(r.Err)
}
