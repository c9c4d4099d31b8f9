// Пакет errors — конструкторы стандартных ошибок HTTP API mediagate.
// Единый формат: {"status": 404, "error": "...", "code": "..."}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeUpstreamTimeout = "UPSTREAM_TIMEOUT"
	CodeDownloadFailed  = "DOWNLOAD_FAILED"
	CodeUploadFailed    = "UPLOAD_FAILED"
	CodeStorageError    = "STORAGE_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeClientClosed    = "CLIENT_CLOSED_REQUEST"
)

// StatusClientClosedRequest — клиент закрыл соединение до ответа
// (нестандартный код nginx; виден только в логах и метриках).
const StatusClientClosedRequest = 499

// errorBody — тело ответа ошибки.
type errorBody struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Status: statusCode,
		Error:  message,
		Code:   code,
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Forbidden — 403 ключ недействителен или лимит исчерпан.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// UpstreamTimeout — 408 загрузка не уложилась в таймаут.
func UpstreamTimeout(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestTimeout, CodeUpstreamTimeout, message)
}

// DownloadFailed — 500 загрузка контента не удалась.
func DownloadFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeDownloadFailed, message)
}

// UploadFailed — 500 публикация в blob host не удалась.
func UploadFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeUploadFailed, message)
}

// StorageError — 500 ошибка хранилища.
func StorageError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeStorageError, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// ClientClosed — 499 клиент отключился, ответ никто не прочитает.
func ClientClosed(w http.ResponseWriter) {
	WriteError(w, StatusClientClosedRequest, CodeClientClosed, "client closed request")
}
