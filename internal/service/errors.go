// Пакет service — бизнес-логика mediagate: квоты, двухуровневый кэш,
// разрешение запросов, загрузка и публикация контента, оркестрация pipeline.
package service

import (
	"errors"
	"fmt"
)

// Причины отказа admission (возвращаются клиенту дословно).
const (
	ReasonInvalidKey   = "invalid or inactive key"
	ReasonLimitReached = "daily limit exceeded"
	ReasonVerification = "verification error"
)

// Ошибки сервисного слоя.
var (
	// ErrEmptyQuery — пустой текст запроса (admission не выполняется).
	ErrEmptyQuery = errors.New("empty query")
	// ErrNotFound — запрос ни во что не разрешился / запись отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamTimeout — загрузка превысила жёсткий таймаут на всех попытках.
	ErrUpstreamTimeout = errors.New("download timed out")
	// ErrUpstreamFailure — retrieval завершился ошибкой или дал неправдоподобный файл.
	ErrUpstreamFailure = errors.New("download failed")
	// ErrPublishFailure — blob host отклонил загрузку.
	ErrPublishFailure = errors.New("upload failed")
	// ErrStorage — ошибка чтения/записи кэша или леджера. Никогда не трактуется как miss.
	ErrStorage = errors.New("storage error")
)

// AuthError — отказ в admission (неверный/неактивный ключ или исчерпан лимит).
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return e.Reason
}

// storageError оборачивает ошибку репозитория в ErrStorage.
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
