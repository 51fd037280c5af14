package converter

import (
	"github.com/DRSN-tech/match-service/internal/domain"
	"github.com/DRSN-tech/match-service/internal/usecase"
)

// MatchConverter преобразует сущности Match между domain и моделью PostgreSQL.
type MatchConverter struct{}

func NewMatchConverter() *MatchConverter {
	return &MatchConverter{}
}

func (MatchConverter) ToModel(entity *domain.Match) *MatchModel {
	return &MatchModel{
		ID:          entity.ID,
		JobID:       entity.JobID,
		ProductID:   entity.ProductID,
		VideoID:     entity.VideoID,
		BestImgID:   entity.BestImgID,
		BestFrameID: entity.BestFrameID,
		TS:          entity.TS,
		Score:       entity.Score,
		CreatedAt:   entity.CreatedAt,
	}
}

func (MatchConverter) ToEntity(model *MatchModel) *domain.Match {
	return &domain.Match{
		ID:          model.ID,
		JobID:       model.JobID,
		ProductID:   model.ProductID,
		VideoID:     model.VideoID,
		BestImgID:   model.BestImgID,
		BestFrameID: model.BestFrameID,
		TS:          model.TS,
		Score:       model.Score,
		CreatedAt:   model.CreatedAt,
	}
}

// AssetConverter преобразует изображения и кадры между domain и моделями PostgreSQL.
type AssetConverter struct{}

func NewAssetConverter() *AssetConverter {
	return &AssetConverter{}
}

func (AssetConverter) ToImageEntity(model *ProductImageModel) *domain.ProductImage {
	return &domain.ProductImage{
		ImgID:       model.ImgID,
		ProductID:   model.ProductID,
		Emb:         toEmbeddingPair(model.EmbRGB, model.EmbGray),
		KeypointRef: derefString(model.KeypointRef),
	}
}

func (AssetConverter) ToFrameEntity(model *VideoFrameModel) *domain.VideoFrame {
	return &domain.VideoFrame{
		FrameID:     model.FrameID,
		VideoID:     model.VideoID,
		TS:          model.TS,
		Emb:         toEmbeddingPair(model.EmbRGB, model.EmbGray),
		KeypointRef: derefString(model.KeypointRef),
	}
}

// OutboxEventConverter преобразует сущности OutboxEvent между usecase и моделью PostgreSQL.
type OutboxEventConverter struct{}

func NewOutboxEventConverter() *OutboxEventConverter {
	return &OutboxEventConverter{}
}

func (OutboxEventConverter) ToModel(entity *usecase.OutboxEvent) *OutboxEventModel {
	return &OutboxEventModel{
		ID:          entity.ID,
		EventID:     entity.EventID,
		EventType:   string(entity.EventType),
		JobID:       entity.JobID,
		Payload:     entity.Payload,
		Status:      string(entity.Status),
		CreatedAt:   entity.CreatedAt,
		ProcessedAt: entity.ProcessedAt,
	}
}

func (OutboxEventConverter) ToEntity(model *OutboxEventModel) *usecase.OutboxEvent {
	return &usecase.OutboxEvent{
		ID:          model.ID,
		EventID:     model.EventID,
		EventType:   usecase.OutboxEventType(model.EventType),
		JobID:       model.JobID,
		Payload:     model.Payload,
		Status:      usecase.OutboxStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		ProcessedAt: model.ProcessedAt,
	}
}

func (c OutboxEventConverter) ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent {
	result := make([]*usecase.OutboxEvent, 0, len(models))
	for _, model := range models {
		result = append(result, c.ToEntity(model))
	}

	return result
}

// toEmbeddingPair собирает пару эмбеддингов; nil, если оба канала NULL.
func toEmbeddingPair(rgb, gray []float32) *domain.EmbeddingPair {
	if len(rgb) == 0 && len(gray) == 0 {
		return nil
	}

	return domain.NewEmbeddingPair(rgb, gray)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
