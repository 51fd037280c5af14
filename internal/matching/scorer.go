package matching

import (
	"math"

	"github.com/DRSN-tech/match-service/internal/domain"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/DRSN-tech/match-service/pkg/logger"
)

// neutralEmbeddingScore — нейтральная оценка embedding-компоненты, когда
// эмбеддингов нет ни у одной стороны: отсутствие сигнала не должно
// автоматически топить пару.
const neutralEmbeddingScore = 0.5

// structuralGridSize — размер сетки пространственной гистограммы ключевых точек.
const structuralGridSize = 8

// Weights — веса компонент композитной оценки. Должны суммироваться в 1.
// Геометрическая проверка доминирует: embedding-близость сама по себе
// не различает визуально похожие продукты.
type Weights struct {
	Embedding  float64
	Keypoint   float64
	Structural float64
}

func DefaultWeights() Weights {
	return Weights{
		Embedding:  0.35,
		Keypoint:   0.55,
		Structural: 0.10,
	}
}

// Validate проверяет, что веса суммируются в 1.
func (w Weights) Validate() error {
	const eps = 1e-6

	if math.Abs(w.Embedding+w.Keypoint+w.Structural-1) > eps {
		return e.ErrInvalidWeights
	}

	return nil
}

// Scorer считает композитную оценку пары (изображение продукта, кадр видео).
type Scorer struct {
	verifier   Verifier
	weights    Weights
	inliersMin float64
	logger     logger.Logger
}

func NewScorer(verifier Verifier, weights Weights, inliersMin float64, logger logger.Logger) *Scorer {
	return &Scorer{
		verifier:   verifier,
		weights:    weights,
		inliersMin: inliersMin,
		logger:     logger,
	}
}

// Score возвращает композитную оценку пары в [0,1].
// Невычислимая компонента даёт 0 (кроме нейтральной embedding-оценки при
// полном отсутствии эмбеддингов). Ошибка возвращается только для битых
// дескрипторных blob'ов; решает, что с ней делать, оркестрация.
func (s *Scorer) Score(img *domain.ProductImage, frame *domain.VideoFrame, imgBlob, frameBlob []byte) (float64, error) {
	const op = "Scorer.Score"

	embScore := embeddingScore(img.Emb, frame.Emb)

	var kpScore, structScore float64
	if len(imgBlob) > 0 && len(frameBlob) > 0 {
		ratio, err := s.verifier.InlierRatio(imgBlob, frameBlob)
		if err != nil {
			return 0, e.Wrap(op, err)
		}

		// Слабый "проход" считается провалом, а не частичным зачётом.
		if ratio >= s.inliersMin {
			kpScore = ratio
		}

		structScore = structuralScore(imgBlob, frameBlob)
	}

	composite := s.weights.Embedding*embScore +
		s.weights.Keypoint*kpScore +
		s.weights.Structural*structScore

	return clamp01(composite), nil
}

// embeddingScore считает косинусную близость по совпадающему каналу:
// rgb предпочтительнее, gray — запасной. Если эмбеддингов нет ни у одной
// стороны, возвращается нейтральная оценка; если канал есть только у одной
// стороны — компонента невычислима и даёт 0.
func embeddingScore(a, b *domain.EmbeddingPair) float64 {
	if a.Empty() && b.Empty() {
		return neutralEmbeddingScore
	}
	if a.Empty() || b.Empty() {
		return 0
	}

	if sim, ok := channelCosine(a, b); ok {
		return clamp01(sim)
	}

	return 0
}

// channelCosine возвращает близость по общему каналу пары эмбеддингов.
// false — у сторон нет общего канала. nil-безопасна с обеих сторон.
func channelCosine(a, b *domain.EmbeddingPair) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if len(a.RGB) > 0 && len(b.RGB) > 0 {
		return domain.Cosine(a.RGB, b.RGB), true
	}
	if len(a.Gray) > 0 && len(b.Gray) > 0 {
		return domain.Cosine(a.Gray, b.Gray), true
	}

	return 0, false
}

// structuralScore — грубый структурный сигнал, независимый от embedding-близости
// и от геометрической модели: пересечение нормированных пространственных
// гистограмм ключевых точек (сетка 8×8 по bounding box каждого набора).
// Гасит ложные срабатывания, случайно прошедшие остальные фильтры.
func structuralScore(aBlob, bBlob []byte) float64 {
	aKps, err := DecodeDescriptors(aBlob)
	if err != nil {
		return 0
	}
	bKps, err := DecodeDescriptors(bBlob)
	if err != nil {
		return 0
	}

	aHist := occupancyHistogram(aKps)
	bHist := occupancyHistogram(bKps)
	if aHist == nil || bHist == nil {
		return 0
	}

	var intersection float64
	for i := range aHist {
		intersection += math.Min(aHist[i], bHist[i])
	}

	return intersection
}

// occupancyHistogram строит нормированную гистограмму занятости ячеек сетки.
func occupancyHistogram(kps []Keypoint) []float64 {
	if len(kps) == 0 {
		return nil
	}

	minX, minY := kps[0].X, kps[0].Y
	maxX, maxY := kps[0].X, kps[0].Y
	for _, kp := range kps[1:] {
		minX, maxX = min(minX, kp.X), max(maxX, kp.X)
		minY, maxY = min(minY, kp.Y), max(maxY, kp.Y)
	}

	spanX := float64(maxX - minX)
	spanY := float64(maxY - minY)

	hist := make([]float64, structuralGridSize*structuralGridSize)
	for _, kp := range kps {
		hist[cellIndex(float64(kp.X-minX), spanX)*structuralGridSize+cellIndex(float64(kp.Y-minY), spanY)]++
	}

	total := float64(len(kps))
	for i := range hist {
		hist[i] /= total
	}

	return hist
}

func cellIndex(offset, span float64) int {
	if span <= 0 {
		return 0
	}

	idx := int(offset / span * structuralGridSize)
	if idx >= structuralGridSize {
		idx = structuralGridSize - 1
	}

	return idx
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}

	return v
}
