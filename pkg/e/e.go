package e

import "fmt"

var (
	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// Внутренние ошибки с векторами и дескрипторами
	ErrEmptyEmbedding       = fmt.Errorf("empty embedding")
	ErrBadDescriptorBlob    = fmt.Errorf("malformed keypoint descriptor blob")
	ErrDescriptorNotFound   = fmt.Errorf("keypoint descriptor not found")
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect env variable")

	// Ошибки кэша
	ErrCacheMiss = fmt.Errorf("cache miss")

	// Ошибки матчинга и прогресса
	ErrUnknownEvent    = fmt.Errorf("unknown event type")
	ErrInvalidWeights  = fmt.Errorf("score weights must sum to 1")
	ErrBadThreshold    = fmt.Errorf("completion threshold must be in (0,1]")
	ErrJobIDRequired   = fmt.Errorf("job id is required")
	ErrMatchKeyInvalid = fmt.Errorf("product id and video id must be positive")
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
