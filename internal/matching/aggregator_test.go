package matching

import (
	"testing"

	"github.com/DRSN-tech/match-service/internal/domain"
)

func pair(imgID, frameID int64, score float64) domain.PairScore {
	return domain.PairScore{ImgID: imgID, FrameID: frameID, TS: float64(frameID) * 0.5, Score: score}
}

func TestAggregateEmpty(t *testing.T) {
	a := NewAggregator(DefaultThresholds())
	if got := a.Aggregate(nil); got != nil {
		t.Fatalf("expected nil decision for empty input, got %+v", got)
	}
}

func TestAggregateAllBelowFloor(t *testing.T) {
	a := NewAggregator(DefaultThresholds())

	got := a.Aggregate([]domain.PairScore{
		pair(1, 1, 0.44),
		pair(1, 2, 0.30),
		pair(2, 3, 0.10),
	})
	if got != nil {
		t.Fatalf("expected nil decision, got %+v", got)
	}
}

func TestAggregateConsistentAccept(t *testing.T) {
	a := NewAggregator(DefaultThresholds())

	got := a.Aggregate([]domain.PairScore{
		pair(1, 10, 0.85),
		pair(2, 11, 0.70),
		pair(1, 12, 0.50),
	})
	if got == nil {
		t.Fatal("expected accepted decision")
	}
	if got.BestImgID != 1 || got.BestFrameID != 10 {
		t.Errorf("expected best pair (1, 10), got (%d, %d)", got.BestImgID, got.BestFrameID)
	}
	if got.Score != 0.85 {
		t.Errorf("expected score 0.85, got %f", got.Score)
	}
	if got.Consistent != 2 {
		t.Errorf("expected 2 consistent pairs, got %d", got.Consistent)
	}
	if got.TS != 5.0 {
		t.Errorf("expected ts 5.0, got %f", got.TS)
	}
}

func TestAggregateStrongBestWithoutSupport(t *testing.T) {
	a := NewAggregator(DefaultThresholds())

	// Лучшая пара выше BestMin, но согласованных меньше двух и она ниже SingleMin.
	got := a.Aggregate([]domain.PairScore{
		pair(1, 10, 0.85),
		pair(2, 11, 0.50),
	})
	if got != nil {
		t.Fatalf("expected rejection without consistent support, got %+v", got)
	}
}

func TestAggregateSingleOverwhelming(t *testing.T) {
	a := NewAggregator(DefaultThresholds())

	got := a.Aggregate([]domain.PairScore{
		pair(3, 7, 0.93),
	})
	if got == nil {
		t.Fatal("expected single overwhelming pair to be accepted")
	}
	if got.BestImgID != 3 || got.BestFrameID != 7 {
		t.Errorf("expected best pair (3, 7), got (%d, %d)", got.BestImgID, got.BestFrameID)
	}
}

func TestAggregateTieBreak(t *testing.T) {
	a := NewAggregator(DefaultThresholds())

	got := a.Aggregate([]domain.PairScore{
		pair(5, 20, 0.90),
		pair(4, 20, 0.90),
		pair(1, 30, 0.90),
	})
	if got == nil {
		t.Fatal("expected accepted decision")
	}
	// Равные оценки: меньший frame_id, затем меньший img_id.
	if got.BestImgID != 4 || got.BestFrameID != 20 {
		t.Fatalf("expected best pair (4, 20), got (%d, %d)", got.BestImgID, got.BestFrameID)
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	a := NewAggregator(DefaultThresholds())

	pairs := []domain.PairScore{
		pair(1, 10, 0.85),
		pair(2, 11, 0.70),
		pair(3, 12, 0.66),
		pair(4, 13, 0.47),
	}

	want := a.Aggregate(pairs)
	if want == nil {
		t.Fatal("expected accepted decision")
	}

	permutations := [][]int{
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{2, 0, 3, 1},
	}
	for _, perm := range permutations {
		shuffled := make([]domain.PairScore, len(pairs))
		for i, idx := range perm {
			shuffled[i] = pairs[idx]
		}

		got := a.Aggregate(shuffled)
		if got == nil {
			t.Fatalf("permutation %v: expected decision", perm)
		}
		if *got != *want {
			t.Fatalf("permutation %v: expected %+v, got %+v", perm, want, got)
		}
	}
}

func TestAggregateThresholdMonotonicity(t *testing.T) {
	pairs := []domain.PairScore{
		pair(1, 10, 0.85),
		pair(2, 11, 0.70),
	}

	accepted := true
	for _, bestMin := range []float64{0.60, 0.70, 0.80, 0.86, 0.95} {
		th := DefaultThresholds()
		th.BestMin = bestMin

		got := NewAggregator(th).Aggregate(pairs)
		if got != nil && !accepted {
			t.Fatalf("BestMin %f: acceptance reappeared after rejection at a lower threshold", bestMin)
		}
		accepted = got != nil
	}
	if accepted {
		t.Fatal("expected rejection at BestMin above the best pair score")
	}
}
