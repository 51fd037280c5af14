package matching

import (
	"testing"

	"github.com/DRSN-tech/match-service/internal/domain"
)

// scorePairs прогоняет все пары изображение×кадр через скорер и собирает
// оценки для агрегатора.
func scorePairs(t *testing.T, s *Scorer, imgs []domain.ProductImage, frames []domain.VideoFrame, blobs map[int64][]byte, frameBlobs map[int64][]byte) []domain.PairScore {
	t.Helper()

	var pairs []domain.PairScore
	for i := range imgs {
		for j := range frames {
			score, err := s.Score(&imgs[i], &frames[j], blobs[imgs[i].ImgID], frameBlobs[frames[j].FrameID])
			if err != nil {
				t.Fatalf("Score(%d, %d): %v", imgs[i].ImgID, frames[j].FrameID, err)
			}
			pairs = append(pairs, domain.PairScore{
				ImgID:   imgs[i].ImgID,
				FrameID: frames[j].FrameID,
				TS:      frames[j].TS,
				Score:   score,
			})
		}
	}
	return pairs
}

// Продукт действительно присутствует в видео: кадры содержат те же ключевые
// точки, сдвинутые аффинно, и тот же эмбеддинг. Совпадение должно быть принято
// с согласованной поддержкой.
func TestPipelineTrueMatchAccepted(t *testing.T) {
	kps := gridKeypoints(12)
	emb := unitVector(16)

	imgs := []domain.ProductImage{
		{ImgID: 1, ProductID: 7, Emb: &domain.EmbeddingPair{RGB: emb}},
		{ImgID: 2, ProductID: 7, Emb: &domain.EmbeddingPair{RGB: emb}},
	}
	frames := []domain.VideoFrame{
		{FrameID: 100, VideoID: 9, TS: 1.5, Emb: &domain.EmbeddingPair{RGB: emb}},
		{FrameID: 101, VideoID: 9, TS: 2.0, Emb: &domain.EmbeddingPair{RGB: emb}},
	}

	imgBlobs := map[int64][]byte{
		1: makeBlob(kps),
		2: makeBlob(kps),
	}
	frameBlobs := map[int64][]byte{
		100: makeBlob(translated(kps, 4, -2)),
		101: makeBlob(translated(kps, -7, 3)),
	}

	scorer := NewScorer(NewAffineVerifier(DefaultVerifierParams()), DefaultWeights(), 0.35, nopLogger{})
	pairs := scorePairs(t, scorer, imgs, frames, imgBlobs, frameBlobs)

	decision := NewAggregator(DefaultThresholds()).Aggregate(pairs)
	if decision == nil {
		t.Fatal("expected true match to be accepted")
	}
	if decision.Score < 0.80 {
		t.Errorf("expected strong best score, got %f", decision.Score)
	}
	if decision.Consistent < 2 {
		t.Errorf("expected consistent support, got %d", decision.Consistent)
	}
	if decision.BestFrameID != 100 && decision.BestFrameID != 101 {
		t.Errorf("unexpected best frame %d", decision.BestFrameID)
	}
}

// Визуально похожий товар: эмбеддинги почти совпадают, но геометрия ключевых
// точек не согласуется ни с одной аффинной моделью. Близость эмбеддингов сама
// по себе не должна давать совпадение.
func TestPipelineLookalikeRejected(t *testing.T) {
	kps := gridKeypoints(12)
	emb := unitVector(16)

	// Те же дескрипторы в геометрически несвязанных позициях.
	scattered := make([]Keypoint, len(kps))
	copy(scattered, kps)
	positions := [][2]float32{
		{73, 11}, {5, 89}, {41, 47}, {97, 63}, {19, 31}, {59, 7},
		{83, 91}, {29, 53}, {67, 23}, {13, 79}, {47, 3}, {91, 37},
	}
	for i := range scattered {
		scattered[i].X = positions[i][0]
		scattered[i].Y = positions[i][1]
	}

	imgs := []domain.ProductImage{
		{ImgID: 1, ProductID: 7, Emb: &domain.EmbeddingPair{RGB: emb}},
	}
	frames := []domain.VideoFrame{
		{FrameID: 100, VideoID: 9, TS: 1.5, Emb: &domain.EmbeddingPair{RGB: emb}},
		{FrameID: 101, VideoID: 9, TS: 2.0, Emb: &domain.EmbeddingPair{RGB: emb}},
	}

	imgBlobs := map[int64][]byte{1: makeBlob(kps)}
	frameBlobs := map[int64][]byte{
		100: makeBlob(scattered),
		101: makeBlob(scattered),
	}

	scorer := NewScorer(NewAffineVerifier(DefaultVerifierParams()), DefaultWeights(), 0.35, nopLogger{})
	pairs := scorePairs(t, scorer, imgs, frames, imgBlobs, frameBlobs)

	if decision := NewAggregator(DefaultThresholds()).Aggregate(pairs); decision != nil {
		t.Fatalf("expected lookalike to be rejected, got %+v", decision)
	}
}
