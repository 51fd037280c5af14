package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DRSN-tech/match-service/internal/cfg"
	"github.com/DRSN-tech/match-service/internal/domain"
	"github.com/DRSN-tech/match-service/pkg/clients"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/DRSN-tech/match-service/pkg/logger"
	"github.com/jimlawless/whereami"
	r "github.com/redis/go-redis/v9"
)

// frameCacheModel — представление кадра в Redis.
type frameCacheModel struct {
	FrameID     int64     `json:"frame_id"`
	VideoID     int64     `json:"video_id"`
	TS          float64   `json:"ts"`
	EmbRGB      []float32 `json:"emb_rgb,omitempty"`
	EmbGray     []float32 `json:"emb_gray,omitempty"`
	KeypointRef string    `json:"keypoint_ref,omitempty"`
}

// CacheRepo кэширует кадры видео в рамках задачи. Любая ошибка Redis
// логируется и деградирует до промаха: источником истины остаётся БД.
type CacheRepo struct {
	client *clients.RedisClient
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewCacheRepo(client *clients.RedisClient, cfg *cfg.RedisCfg, logger logger.Logger) *CacheRepo {
	return &CacheRepo{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// GetFrames возвращает закэшированные кадры видео.
// Промах кэша и любая ошибка Redis возвращаются как e.ErrCacheMiss.
func (c *CacheRepo) GetFrames(ctx context.Context, jobID string, videoID int64) ([]domain.VideoFrame, error) {
	data, err := c.client.Client.Get(ctx, c.framesKey(jobID, videoID)).Bytes()
	if err != nil {
		if !errors.Is(err, r.Nil) {
			c.logger.Warnf("Redis GET failed: %v", e.Wrap(whereami.WhereAmI(), err))
		}

		return nil, e.ErrCacheMiss
	}

	var models []frameCacheModel
	if err := json.Unmarshal(data, &models); err != nil {
		c.logger.Warnf("Redis unmarshal failed: %v", e.Wrap(whereami.WhereAmI(), err))

		// Битое значение удаляется, чтобы не спотыкаться о него повторно.
		if err := c.client.Client.Del(context.Background(), c.framesKey(jobID, videoID)).Err(); err != nil {
			c.logger.Warnf("Redis DEL failed: %v", e.Wrap(whereami.WhereAmI(), err))
		}

		return nil, e.ErrCacheMiss
	}

	frames := make([]domain.VideoFrame, 0, len(models))
	for _, model := range models {
		frames = append(frames, *toFrameEntity(&model))
	}

	return frames, nil
}

// SetFrames кэширует кадры видео с заданным TTL.
// Ошибки сериализации и записи логируются и не пробрасываются.
func (c *CacheRepo) SetFrames(ctx context.Context, jobID string, videoID int64, frames []domain.VideoFrame) error {
	models := make([]frameCacheModel, 0, len(frames))
	for i := range frames {
		models = append(models, *toFrameModel(&frames[i]))
	}

	data, err := json.Marshal(models)
	if err != nil {
		c.logger.Warnf("Failed to marshal frames for caching (video_id: %d): %v", videoID, e.Wrap(whereami.WhereAmI(), err))
		return nil
	}

	if err := c.client.Client.Set(ctx, c.framesKey(jobID, videoID), data, c.cfg.FramesTTL).Err(); err != nil {
		c.logger.Warnf("Cache SET failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

// DeleteFrames удаляет кадры видео из кэша.
func (c *CacheRepo) DeleteFrames(ctx context.Context, jobID string, videoID int64) error {
	if err := c.client.Client.Del(ctx, c.framesKey(jobID, videoID)).Err(); err != nil {
		c.logger.Warnf("Redis DEL failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

// framesKey возвращает Redis-ключ кадров одного видео в рамках задачи.
func (c *CacheRepo) framesKey(jobID string, videoID int64) string {
	return fmt.Sprintf("frames:%s:%d", jobID, videoID)
}

func toFrameModel(frame *domain.VideoFrame) *frameCacheModel {
	model := &frameCacheModel{
		FrameID:     frame.FrameID,
		VideoID:     frame.VideoID,
		TS:          frame.TS,
		KeypointRef: frame.KeypointRef,
	}

	if frame.Emb != nil {
		model.EmbRGB = frame.Emb.RGB
		model.EmbGray = frame.Emb.Gray
	}

	return model
}

func toFrameEntity(model *frameCacheModel) *domain.VideoFrame {
	var emb *domain.EmbeddingPair
	if len(model.EmbRGB) > 0 || len(model.EmbGray) > 0 {
		emb = domain.NewEmbeddingPair(model.EmbRGB, model.EmbGray)
	}

	return domain.NewVideoFrame(model.FrameID, model.VideoID, model.TS, emb, model.KeypointRef)
}
