package errors

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Error представляет типизированную ошибку шлюза с дополнительной информацией
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	// Fields список полей, вызвавших ошибку (для IMMUTABLE_FIELD)
	Fields []string `json:"fields,omitempty"`
	Cause  error    `json:"-"`
}

// ErrorCode представляет код ошибки
type ErrorCode string

// Определение кодов ошибок
const (
	// ErrNotFound id не разрешается в существующий неудаленный документ
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrForbidden документ существует, но доступ запрещен
	ErrForbidden ErrorCode = "FORBIDDEN"
	// ErrImmutableField запись затрагивает защищенное поле
	ErrImmutableField ErrorCode = "IMMUTABLE_FIELD"
	// ErrConflict бэкенд обнаружил конкурентную модификацию
	ErrConflict ErrorCode = "CONFLICT"
	// ErrMalformedID идентификатор не разбирается
	ErrMalformedID ErrorCode = "MALFORMED_ID"
	// ErrBackendUnavailable транспортная ошибка при обращении к живому бэкенду
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// ErrValidation некорректные входные данные
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	// ErrInternal внутренняя ошибка
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is проверяет, совпадает ли код ошибки с целевой
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую типизированную ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку в типизированную
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithDetails добавляет детали к ошибке
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Fields:  e.Fields,
		Cause:   e.Cause,
	}
}

// WithFields добавляет список проблемных полей к ошибке
func (e *Error) WithFields(fields ...string) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Fields:  fields,
		Cause:   e.Cause,
	}
}

// CodeOf возвращает код ошибки или ErrInternal, если ошибка не типизирована
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if typed, ok := err.(*Error); ok {
		return typed.Code
	}
	return ErrInternal
}

// IsCode проверяет, имеет ли ошибка указанный код
func IsCode(err error, code ErrorCode) bool {
	if typed, ok := err.(*Error); ok {
		return typed.Code == code
	}
	return false
}

// HTTPStatus возвращает соответствующий HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}

	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrImmutableField, ErrMalformedID, ErrValidation:
		return http.StatusBadRequest
	case ErrConflict:
		return http.StatusConflict
	case ErrBackendUnavailable:
		return http.StatusBadGateway
	case ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToGRPCErr переводит типизированную ошибку в gRPC статус
func (e *Error) ToGRPCErr() error {
	if e == nil {
		return nil
	}

	// Преобразуем код ошибки в gRPC код
	var grpcCode codes.Code
	switch e.Code {
	case ErrNotFound:
		grpcCode = codes.NotFound
	case ErrForbidden:
		grpcCode = codes.PermissionDenied
	case ErrImmutableField, ErrMalformedID, ErrValidation:
		grpcCode = codes.InvalidArgument
	case ErrConflict:
		grpcCode = codes.Aborted
	case ErrBackendUnavailable:
		grpcCode = codes.Unavailable
	case ErrInternal:
		grpcCode = codes.Internal
	default:
		grpcCode = codes.Unknown
	}

	st := status.New(grpcCode, e.Message)

	// Переносим детали и список полей в структурированный payload
	if e.Details != "" || len(e.Fields) > 0 {
		payload := map[string]interface{}{"code": string(e.Code)}
		if e.Details != "" {
			payload["details"] = e.Details
		}
		if len(e.Fields) > 0 {
			fields := make([]interface{}, len(e.Fields))
			for i, f := range e.Fields {
				fields[i] = f
			}
			payload["fields"] = fields
		}
		if detail, err := structpb.NewStruct(payload); err == nil {
			if withDetails, derr := st.WithDetails(detail); derr == nil {
				st = withDetails
			}
		}
	}

	return st.Err()
}

// FromGRPCErr преобразует gRPC ошибку в типизированную ошибку
func FromGRPCErr(err error) *Error {
	if err == nil {
		return nil
	}

	grpcStatus, ok := status.FromError(err)
	if !ok {
		return Wrap(err, ErrInternal, "internal error")
	}

	var code ErrorCode
	switch grpcStatus.Code() {
	case codes.NotFound:
		code = ErrNotFound
	case codes.PermissionDenied:
		code = ErrForbidden
	case codes.InvalidArgument:
		code = ErrValidation
	case codes.Aborted, codes.AlreadyExists:
		code = ErrConflict
	case codes.Unavailable:
		code = ErrBackendUnavailable
	default:
		code = ErrInternal
	}

	return &Error{
		Code:    code,
		Message: grpcStatus.Message(),
	}
}
