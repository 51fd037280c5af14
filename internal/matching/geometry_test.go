package matching

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/DRSN-tech/match-service/pkg/e"
)

// makeBlob кодирует ключевые точки в бинарный формат blob'а дескрипторов.
func makeBlob(kps []Keypoint) []byte {
	blob := make([]byte, 0, len(kps)*keypointRecordSize)
	for _, kp := range kps {
		var rec [keypointRecordSize]byte
		binary.LittleEndian.PutUint32(rec[0:], math.Float32bits(kp.X))
		binary.LittleEndian.PutUint32(rec[4:], math.Float32bits(kp.Y))
		copy(rec[8:], kp.Desc[:])
		blob = append(blob, rec[:]...)
	}
	return blob
}

// gridKeypoints строит n точек на сетке с попарно различными дескрипторами.
func gridKeypoints(n int) []Keypoint {
	kps := make([]Keypoint, n)
	for i := range kps {
		kps[i].X = float32(i%4) * 10
		kps[i].Y = float32(i/4) * 10
		for j := range kps[i].Desc {
			kps[i].Desc[j] = byte(7*i + 1)
		}
	}
	return kps
}

func translated(kps []Keypoint, dx, dy float32) []Keypoint {
	out := make([]Keypoint, len(kps))
	copy(out, kps)
	for i := range out {
		out[i].X += dx
		out[i].Y += dy
	}
	return out
}

func TestDecodeDescriptorsRoundTrip(t *testing.T) {
	want := gridKeypoints(3)

	got, err := DecodeDescriptors(makeBlob(want))
	if err != nil {
		t.Fatalf("DecodeDescriptors: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d keypoints, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keypoint %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestDecodeDescriptorsEmpty(t *testing.T) {
	got, err := DecodeDescriptors(nil)
	if err != nil {
		t.Fatalf("DecodeDescriptors(nil): %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no keypoints, got %d", len(got))
	}
}

func TestDecodeDescriptorsBadLength(t *testing.T) {
	_, err := DecodeDescriptors(make([]byte, keypointRecordSize+1))
	if !errors.Is(err, e.ErrBadDescriptorBlob) {
		t.Fatalf("expected ErrBadDescriptorBlob, got %v", err)
	}
}

func TestInlierRatioIdentityTransform(t *testing.T) {
	src := gridKeypoints(12)
	dst := translated(src, 5, -3)

	v := NewAffineVerifier(DefaultVerifierParams())
	ratio, err := v.InlierRatio(makeBlob(src), makeBlob(dst))
	if err != nil {
		t.Fatalf("InlierRatio: %v", err)
	}
	if ratio != 1.0 {
		t.Fatalf("expected ratio 1.0 for pure translation, got %f", ratio)
	}
}

func TestInlierRatioWithOutliers(t *testing.T) {
	src := gridKeypoints(12)
	dst := translated(src, 5, -3)
	// Три точки уводим далеко от модели.
	for i := 0; i < 3; i++ {
		dst[i].X += float32(1000 + 200*i)
		dst[i].Y -= float32(900 + 150*i)
	}

	v := NewAffineVerifier(DefaultVerifierParams())
	ratio, err := v.InlierRatio(makeBlob(src), makeBlob(dst))
	if err != nil {
		t.Fatalf("InlierRatio: %v", err)
	}
	if ratio != 0.75 {
		t.Fatalf("expected ratio 0.75 (9 of 12 inliers), got %f", ratio)
	}
}

func TestInlierRatioTooFewCorrespondences(t *testing.T) {
	src := gridKeypoints(4)
	dst := translated(src, 1, 1)

	v := NewAffineVerifier(DefaultVerifierParams())
	ratio, err := v.InlierRatio(makeBlob(src), makeBlob(dst))
	if err != nil {
		t.Fatalf("InlierRatio: %v", err)
	}
	if ratio != 0 {
		t.Fatalf("expected ratio 0 below MinCorr, got %f", ratio)
	}
}

func TestInlierRatioDeterministic(t *testing.T) {
	src := gridKeypoints(16)
	dst := translated(src, 2, 7)
	for i := 0; i < 5; i++ {
		dst[i*3].X += float32(40*i + 17)
		dst[i*3].Y += float32(60*i + 29)
	}

	v := NewAffineVerifier(DefaultVerifierParams())

	first, err := v.InlierRatio(makeBlob(src), makeBlob(dst))
	if err != nil {
		t.Fatalf("InlierRatio: %v", err)
	}
	for run := 0; run < 5; run++ {
		got, err := v.InlierRatio(makeBlob(src), makeBlob(dst))
		if err != nil {
			t.Fatalf("InlierRatio run %d: %v", run, err)
		}
		if got != first {
			t.Fatalf("run %d: expected %f, got %f", run, first, got)
		}
	}
}

func TestInlierRatioBadBlob(t *testing.T) {
	src := gridKeypoints(8)

	v := NewAffineVerifier(DefaultVerifierParams())
	if _, err := v.InlierRatio(makeBlob(src), []byte{1, 2, 3}); !errors.Is(err, e.ErrBadDescriptorBlob) {
		t.Fatalf("expected ErrBadDescriptorBlob, got %v", err)
	}
}

func TestAffineFromSampleDegenerate(t *testing.T) {
	// Коллинеарные точки не определяют аффинную модель.
	p1 := correspondence{sx: 0, sy: 0, dx: 0, dy: 0}
	p2 := correspondence{sx: 1, sy: 1, dx: 1, dy: 1}
	p3 := correspondence{sx: 2, sy: 2, dx: 2, dy: 2}

	if _, ok := affineFromSample(p1, p2, p3, 1e-9); ok {
		t.Fatal("expected degenerate sample to be rejected")
	}
}
