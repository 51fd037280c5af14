package qdrant

import (
	"context"

	"github.com/DRSN-tech/match-service/internal/cfg"
	"github.com/DRSN-tech/match-service/internal/domain"
	"github.com/DRSN-tech/match-service/internal/matching"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
)

// FrameSearchRepo — поиск похожих кадров по embedding-векторам в Qdrant.
// Кадры индексируются стадией инференса; здесь только чтение.
type FrameSearchRepo struct {
	client *qdrant.Client
	cfg    *cfg.QdrantCfg
}

func NewFrameSearchRepo(client *qdrant.Client, cfg *cfg.QdrantCfg) *FrameSearchRepo {
	return &FrameSearchRepo{
		client: client,
		cfg:    cfg,
	}
}

// Search возвращает до topK ближайших кадров по косинусной близости,
// ограничивая поиск кадрами одной задачи через payload-фильтр.
func (q *FrameSearchRepo) Search(ctx context.Context, query domain.Vector, jobID string, topK int) ([]matching.RankedFrame, error) {
	if len(query) == 0 {
		return nil, e.ErrEmptyEmbedding
	}

	limit := uint64(topK)

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.QdrantCollectionName,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("job_id", jobID),
			},
		},
	})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	result := make([]matching.RankedFrame, 0, len(points))
	for _, point := range points {
		result = append(result, matching.RankedFrame{
			FrameID:    int64(point.GetId().GetNum()),
			Similarity: float64(point.GetScore()),
		})
	}

	return result, nil
}
