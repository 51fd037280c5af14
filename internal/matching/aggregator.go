package matching

import "github.com/DRSN-tech/match-service/internal/domain"

// Decision — принятое решение агрегатора по паре (продукт, видео).
type Decision struct {
	BestImgID   int64
	BestFrameID int64
	TS          float64
	Score       float64
	Consistent  int
}

// Thresholds — пороги принятия решения о совпадении.
type Thresholds struct {
	// MinPairScore — пары ниже порога отбрасываются до агрегации.
	MinPairScore float64
	// BestMin — минимальная оценка лучшей пары для принятия.
	BestMin float64
	// ConsMinScore — более строгая планка "согласованной" пары.
	ConsMinScore float64
	// ConsMin — минимальное число согласованных пар: одна удачная пара
	// не должна решать исход в одиночку.
	ConsMin int
	// SingleMin — запасной порог для однозначных совпадений: лучшая пара
	// выше него принимается без требования согласованности.
	SingleMin float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinPairScore: 0.45,
		BestMin:      0.80,
		ConsMinScore: 0.65,
		ConsMin:      2,
		SingleMin:    0.92,
	}
}

// Aggregator превращает оценённые пары одной тройки (job, product, video)
// в решение принять/отклонить с лучшей парой в качестве доказательства.
type Aggregator struct {
	thresholds Thresholds
}

func NewAggregator(thresholds Thresholds) *Aggregator {
	return &Aggregator{
		thresholds: thresholds,
	}
}

// Aggregate возвращает решение или nil, если совпадения нет.
// Отсутствие совпадения — нормальный исход, а не ошибка.
//
// Лучшая пара выбирается по максимальной оценке; при равенстве побеждает
// меньший frame_id, затем меньший img_id. Детерминизм выбора — контракт:
// одинаковый вход всегда даёт одинаковое доказательство.
// Итоговая оценка совпадения — оценка лучшей пары.
func (a *Aggregator) Aggregate(pairs []domain.PairScore) *Decision {
	var (
		best       *domain.PairScore
		consistent int
	)

	for i := range pairs {
		p := &pairs[i]
		if p.Score < a.thresholds.MinPairScore {
			continue
		}

		if p.Score >= a.thresholds.ConsMinScore {
			consistent++
		}

		if best == nil || betterPair(p, best) {
			best = p
		}
	}

	if best == nil {
		return nil
	}

	accepted := best.Score >= a.thresholds.BestMin && consistent >= a.thresholds.ConsMin ||
		best.Score >= a.thresholds.SingleMin

	if !accepted {
		return nil
	}

	return &Decision{
		BestImgID:   best.ImgID,
		BestFrameID: best.FrameID,
		TS:          best.TS,
		Score:       best.Score,
		Consistent:  consistent,
	}
}

// betterPair сообщает, что кандидат строго лучше текущего лидера.
func betterPair(p, best *domain.PairScore) bool {
	if p.Score != best.Score {
		return p.Score > best.Score
	}
	if p.FrameID != best.FrameID {
		return p.FrameID < best.FrameID
	}

	return p.ImgID < best.ImgID
}
