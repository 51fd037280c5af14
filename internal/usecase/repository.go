package usecase

import (
	"context"

	"github.com/DRSN-tech/match-service/internal/domain"
)

type MatchRepository interface {
	// Create вставляет совпадение. created == false означает, что запись с тем же
	// естественным ключом (job_id, product_id, video_id) уже существует.
	Create(ctx context.Context, match *domain.Match) (created bool, err error)
}

type AssetRepository interface {
	ProductImages(ctx context.Context, jobID string, productID int64) ([]domain.ProductImage, error)
	VideoFrames(ctx context.Context, jobID string, videoID int64) ([]domain.VideoFrame, error)
}

// DescriptorRepository загружает blob дескрипторов ключевых точек по
// непрозрачной ссылке. Blob'ы читаются только для геометрической проверки.
type DescriptorRepository interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// FrameCacheRepository кэширует кадры видео в рамках задачи.
type FrameCacheRepository interface {
	GetFrames(ctx context.Context, jobID string, videoID int64) ([]domain.VideoFrame, error)
	SetFrames(ctx context.Context, jobID string, videoID int64, frames []domain.VideoFrame) error
	DeleteFrames(ctx context.Context, jobID string, videoID int64) error
}

type OutboxRepository interface {
	Create(ctx context.Context, event *OutboxEvent) (*OutboxEvent, error)
	GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkAsProcessed(ctx context.Context, id int64) error
}
