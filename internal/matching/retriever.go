package matching

import (
	"context"
	"sort"
	"time"

	"github.com/DRSN-tech/match-service/internal/domain"
	"github.com/DRSN-tech/match-service/pkg/logger"
)

// RankedFrame — кадр-кандидат с оценкой близости к запросу.
type RankedFrame struct {
	FrameID    int64
	Similarity float64
}

// SearchBackend — внешний поиск ближайших соседей по косинусной близости.
// Пул поиска всегда ограничен одной задачей.
type SearchBackend interface {
	Search(ctx context.Context, query domain.Vector, jobID string, topK int) ([]RankedFrame, error)
}

// Retriever возвращает top-K наиболее похожих кадров для одного изображения
// продукта. Предпочтительный путь — внешний векторный поиск; при его отказе
// близость считается прямым скалярным произведением по пулу кандидатов, а в
// крайнем случае возвращаются первые top-K кандидатов без ранжирования:
// доступность важнее точности.
type Retriever struct {
	backend SearchBackend
	timeout time.Duration
	logger  logger.Logger
}

func NewRetriever(backend SearchBackend, timeout time.Duration, logger logger.Logger) *Retriever {
	return &Retriever{
		backend: backend,
		timeout: timeout,
		logger:  logger,
	}
}

// Retrieve возвращает до topK кандидатов по убыванию близости.
// Никогда не возвращает ошибку и не имеет персистентных побочных эффектов.
func (r *Retriever) Retrieve(ctx context.Context, query *domain.EmbeddingPair, jobID string, pool []domain.VideoFrame, topK int) []RankedFrame {
	if topK <= 0 || len(pool) == 0 {
		return nil
	}

	if query.Empty() {
		r.logger.Debugf("query embedding missing, returning unranked candidates. job_id: %s", jobID)
		return unranked(pool, topK)
	}

	if ranked, ok := r.searchBackend(ctx, query, jobID, pool, topK); ok {
		return ranked
	}

	return bruteForce(query, pool, topK)
}

// searchBackend выполняет запрос к внешнему поиску с таймаутом и отображает
// результат обратно на пул кандидатов. false — путь не сработал.
func (r *Retriever) searchBackend(ctx context.Context, query *domain.EmbeddingPair, jobID string, pool []domain.VideoFrame, topK int) ([]RankedFrame, bool) {
	if r.backend == nil {
		return nil, false
	}

	queryVec := query.RGB
	if len(queryVec) == 0 {
		queryVec = query.Gray
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results, err := r.backend.Search(searchCtx, queryVec, jobID, topK)
	if err != nil {
		r.logger.Warnf("vector search backend failed, falling back to brute force. job_id: %s, error: %v", jobID, err)
		return nil, false
	}

	// Фильтр по пулу: бэкенд не должен подмешивать кадры чужих задач.
	inPool := make(map[int64]struct{}, len(pool))
	for i := range pool {
		inPool[pool[i].FrameID] = struct{}{}
	}

	ranked := make([]RankedFrame, 0, len(results))
	for _, res := range results {
		if _, ok := inPool[res.FrameID]; !ok {
			continue
		}

		ranked = append(ranked, res)
		if len(ranked) == topK {
			break
		}
	}

	return ranked, true
}

// bruteForce считает близость по пулу напрямую. Кандидаты без эмбеддингов
// исключаются из ранжирования; если таких нет вовсе, возвращаются первые
// topK кандидатов без ранжирования.
func bruteForce(query *domain.EmbeddingPair, pool []domain.VideoFrame, topK int) []RankedFrame {
	ranked := make([]RankedFrame, 0, len(pool))
	for i := range pool {
		sim, ok := channelCosine(query, pool[i].Emb)
		if !ok {
			continue
		}

		ranked = append(ranked, RankedFrame{
			FrameID:    pool[i].FrameID,
			Similarity: sim,
		})
	}

	if len(ranked) == 0 {
		return unranked(pool, topK)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Similarity != ranked[j].Similarity {
			return ranked[i].Similarity > ranked[j].Similarity
		}
		return ranked[i].FrameID < ranked[j].FrameID
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	return ranked
}

func unranked(pool []domain.VideoFrame, topK int) []RankedFrame {
	n := min(topK, len(pool))

	ranked := make([]RankedFrame, 0, n)
	for i := 0; i < n; i++ {
		ranked = append(ranked, RankedFrame{FrameID: pool[i].FrameID})
	}

	return ranked
}
