package api

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials возвращается при отклонённом обмене логина и пароля на токены.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenExpired возвращается, если access-токен истёк или отклонён бэкендом.
	ErrTokenExpired = errors.New("access token expired")
	// ErrUnauthenticated возвращается при вызове защищённой операции без сессии.
	ErrUnauthenticated = errors.New("not authenticated")
)

// ValidationError содержит ошибки валидации полей, возвращённые бэкендом при регистрации.
type ValidationError struct {
	FieldErrors map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d field(s)", len(e.FieldErrors))
}

// BackendError описывает структурированный отказ бэкенда (в отличие от
// транспортной ошибки, когда ответа не было вовсе).
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend rejected request: %s", e.Message)
	}
	return fmt.Sprintf("backend rejected request: status %d", e.StatusCode)
}

// TransportError описывает сетевую ошибку без ответа бэкенда.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "marketplace unreachable"
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
