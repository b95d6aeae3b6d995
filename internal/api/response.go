package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/autonet/internal/engine"
	"github.com/shaiso/autonet/internal/repo"
)

// ErrorCode — машинно-читаемый код ошибки в теле ответа.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeInvalidGraph  ErrorCode = "INVALID_GRAPH"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — тело ответа с ошибкой: {"error": {"code", "message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — код и текст ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — конверт одиночного объекта.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — конверт списка. Total — число элементов в выдаче.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON пишет произвольное тело со статусом.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Accepted — запрос принят, но выполнится асинхронно (отмена running run).
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отдаёт список; nil-срез кодируется как [].
func List[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	JSON(w, http.StatusOK, ListResponse{Data: items, Total: len(items)})
}

// Error пишет ошибку в формате ErrorResponse.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

// InvalidGraph — определение разобралось, но граф не прошёл проверку.
func InvalidGraph(w http.ResponseWriter, err error) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidGraph, err.Error())
}

// InternalError логирует err и отдаёт клиенту 500 без подробностей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// repoErrors — ошибки хранилища, которые отдаются клиенту как есть.
var repoErrors = []struct {
	err    error
	status int
	code   ErrorCode
}{
	{repo.ErrInvalidState, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{repo.ErrAlreadyExists, http.StatusConflict, ErrCodeConflict},
}

// HandleRepoError отвечает по ошибке репозитория или движка и
// сообщает, был ли ответ записан. notFoundMsg заменяет текст для ErrNotFound.
func HandleRepoError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, repo.ErrNotFound) {
		if notFoundMsg == "" {
			notFoundMsg = err.Error()
		}
		NotFound(w, notFoundMsg)
		return true
	}

	for _, m := range repoErrors {
		if errors.Is(err, m.err) {
			Error(w, m.status, m.code, err.Error())
			return true
		}
	}

	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		InvalidGraph(w, verr)
		return true
	}

	InternalError(w, logger, err)
	return true
}
