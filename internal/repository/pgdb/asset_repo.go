package pgdb

import (
	"context"

	"github.com/DRSN-tech/match-service/internal/domain"
	"github.com/DRSN-tech/match-service/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// AssetRepo читает изображения продуктов и кадры видео из PostgreSQL.
// Заполнение эмбеддингов и дескрипторов — забота стадий выше по пайплайну,
// здесь только чтение.
type AssetRepo struct {
	pool *pgxpool.Pool
	conv *converter.AssetConverter
}

func NewAssetRepo(pool *pgxpool.Pool, conv *converter.AssetConverter) *AssetRepo {
	return &AssetRepo{
		pool: pool,
		conv: conv,
	}
}

// ProductImages возвращает изображения продукта в рамках задачи.
func (a *AssetRepo) ProductImages(ctx context.Context, jobID string, productID int64) ([]domain.ProductImage, error) {
	query := `
		SELECT img_id, product_id, emb_rgb, emb_gray, keypoint_ref
		FROM product_images
		WHERE job_id = $1 AND product_id = $2
		ORDER BY img_id
	`

	rows, err := a.pool.Query(ctx, query, jobID, productID)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make([]domain.ProductImage, 0)
	for rows.Next() {
		var model converter.ProductImageModel
		if err := rows.Scan(&model.ImgID, &model.ProductID, &model.EmbRGB, &model.EmbGray, &model.KeypointRef); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		result = append(result, *a.conv.ToImageEntity(&model))
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return result, nil
}

// VideoFrames возвращает кадры видео в рамках задачи, по возрастанию позиции.
func (a *AssetRepo) VideoFrames(ctx context.Context, jobID string, videoID int64) ([]domain.VideoFrame, error) {
	query := `
		SELECT frame_id, video_id, ts, emb_rgb, emb_gray, keypoint_ref
		FROM video_frames
		WHERE job_id = $1 AND video_id = $2
		ORDER BY ts, frame_id
	`

	rows, err := a.pool.Query(ctx, query, jobID, videoID)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make([]domain.VideoFrame, 0)
	for rows.Next() {
		var model converter.VideoFrameModel
		if err := rows.Scan(&model.FrameID, &model.VideoID, &model.TS, &model.EmbRGB, &model.EmbGray, &model.KeypointRef); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		result = append(result, *a.conv.ToFrameEntity(&model))
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return result, nil
}
