package matching

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"math/rand"

	"github.com/DRSN-tech/match-service/pkg/e"
)

const (
	// DescriptorSize — длина бинарного дескриптора одной ключевой точки в байтах.
	DescriptorSize = 32
	// keypointRecordSize — размер одной записи в blob: x, y (float32) + дескриптор.
	keypointRecordSize = 8 + DescriptorSize
)

// Keypoint — ключевая точка изображения с бинарным дескриптором.
type Keypoint struct {
	X, Y float32
	Desc [DescriptorSize]byte
}

// DecodeDescriptors разбирает blob с дескрипторами ключевых точек.
// Формат: подряд идущие записи по 40 байт, little-endian: x float32, y float32,
// 32 байта дескриптора.
func DecodeDescriptors(blob []byte) ([]Keypoint, error) {
	if len(blob)%keypointRecordSize != 0 {
		return nil, e.Wrap(fmt.Sprintf("blob length %d", len(blob)), e.ErrBadDescriptorBlob)
	}

	kps := make([]Keypoint, 0, len(blob)/keypointRecordSize)
	for off := 0; off < len(blob); off += keypointRecordSize {
		var kp Keypoint
		kp.X = math.Float32frombits(binary.LittleEndian.Uint32(blob[off:]))
		kp.Y = math.Float32frombits(binary.LittleEndian.Uint32(blob[off+4:]))
		copy(kp.Desc[:], blob[off+8:off+keypointRecordSize])
		kps = append(kps, kp)
	}

	return kps, nil
}

// Verifier — примитив геометрической проверки пары дескрипторных blob'ов.
// Возвращает inlier ratio: долю соответствий, согласованных с одной
// оценённой геометрической моделью.
type Verifier interface {
	InlierRatio(imgBlob, frameBlob []byte) (float64, error)
}

// VerifierParams — параметры аффинной RANSAC-проверки.
type VerifierParams struct {
	// Iterations — фиксированное число итераций RANSAC.
	Iterations int
	// Tolerance — порог репроекционной ошибки в пикселях.
	Tolerance float64
	// LoweRatio — порог ratio-теста при сопоставлении дескрипторов.
	LoweRatio float64
	// MinCorr — минимальное число соответствий; меньше — ratio сразу 0.
	MinCorr int
	// Seed — зерно генератора выборок. Фиксированное зерно даёт
	// детерминированный результат при повторных запусках.
	Seed int64
}

func DefaultVerifierParams() VerifierParams {
	return VerifierParams{
		Iterations: 256,
		Tolerance:  3.0,
		LoweRatio:  0.8,
		MinCorr:    8,
		Seed:       1,
	}
}

// AffineVerifier оценивает аффинную модель (минимальная выборка — 3 точки)
// по соответствиям ключевых точек и считает inlier ratio.
type AffineVerifier struct {
	params VerifierParams
}

func NewAffineVerifier(params VerifierParams) *AffineVerifier {
	return &AffineVerifier{
		params: params,
	}
}

// InlierRatio сопоставляет дескрипторы двух изображений и возвращает долю
// соответствий, согласованных с лучшей найденной аффинной моделью.
// Недостаток соответствий — это не ошибка, а нулевой ratio.
func (v *AffineVerifier) InlierRatio(imgBlob, frameBlob []byte) (float64, error) {
	const op = "AffineVerifier.InlierRatio"

	src, err := DecodeDescriptors(imgBlob)
	if err != nil {
		return 0, e.Wrap(op, err)
	}

	dst, err := DecodeDescriptors(frameBlob)
	if err != nil {
		return 0, e.Wrap(op, err)
	}

	matches := matchDescriptors(src, dst, v.params.LoweRatio)
	if len(matches) < v.params.MinCorr {
		return 0, nil
	}

	best := v.ransacAffine(matches)

	return float64(best) / float64(len(matches)), nil
}

// correspondence — пара сопоставленных точек (src → dst).
type correspondence struct {
	sx, sy float64
	dx, dy float64
}

// matchDescriptors строит соответствия по расстоянию Хэмминга с ratio-тестом Лоу.
func matchDescriptors(src, dst []Keypoint, loweRatio float64) []correspondence {
	if len(dst) < 2 {
		return nil
	}

	matches := make([]correspondence, 0, len(src))
	for i := range src {
		bestIdx := -1
		bestDist, secondDist := math.MaxInt32, math.MaxInt32

		for j := range dst {
			d := hamming(&src[i].Desc, &dst[j].Desc)
			if d < bestDist {
				secondDist = bestDist
				bestDist = d
				bestIdx = j
			} else if d < secondDist {
				secondDist = d
			}
		}

		if float64(bestDist) < loweRatio*float64(secondDist) {
			matches = append(matches, correspondence{
				sx: float64(src[i].X), sy: float64(src[i].Y),
				dx: float64(dst[bestIdx].X), dy: float64(dst[bestIdx].Y),
			})
		}
	}

	return matches
}

func hamming(a, b *[DescriptorSize]byte) int {
	var dist int
	for off := 0; off < DescriptorSize; off += 8 {
		x := binary.LittleEndian.Uint64(a[off:]) ^ binary.LittleEndian.Uint64(b[off:])
		dist += bits.OnesCount64(x)
	}

	return dist
}

// affine — модель u = a*x + b*y + c; v = d*x + e*y + f.
type affine struct {
	a, b, c, d, e, f float64
}

func (m *affine) apply(x, y float64) (float64, float64) {
	return m.a*x + m.b*y + m.c, m.d*x + m.e*y + m.f
}

// ransacAffine возвращает число инлаеров лучшей модели.
// Выборки берутся из генератора с фиксированным зерном, так что результат
// воспроизводим от запуска к запуску.
func (v *AffineVerifier) ransacAffine(matches []correspondence) int {
	const degenerateEps = 1e-9

	if len(matches) < 3 {
		return 0
	}

	rng := rand.New(rand.NewSource(v.params.Seed))
	tolSq := v.params.Tolerance * v.params.Tolerance

	var best int
	for iter := 0; iter < v.params.Iterations; iter++ {
		i, j, k := sampleThree(rng, len(matches))

		model, ok := affineFromSample(matches[i], matches[j], matches[k], degenerateEps)
		if !ok {
			continue
		}

		inliers := 0
		for _, m := range matches {
			u, w := model.apply(m.sx, m.sy)
			du, dw := u-m.dx, w-m.dy
			if du*du+dw*dw <= tolSq {
				inliers++
			}
		}

		if inliers > best {
			best = inliers
		}
	}

	return best
}

// sampleThree выбирает три различных индекса из [0, n).
func sampleThree(rng *rand.Rand, n int) (int, int, int) {
	i := rng.Intn(n)

	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}

	k := rng.Intn(n - 2)
	if k >= min(i, j) {
		k++
	}
	if k >= max(i, j) {
		k++
	}

	return i, j, k
}

// affineFromSample решает систему из трёх соответствий методом Крамера.
// Возвращает false для вырожденной (коллинеарной) выборки.
func affineFromSample(p1, p2, p3 correspondence, eps float64) (affine, bool) {
	det := p1.sx*(p2.sy-p3.sy) - p1.sy*(p2.sx-p3.sx) + (p2.sx*p3.sy - p3.sx*p2.sy)
	if math.Abs(det) < eps {
		return affine{}, false
	}

	solve := func(r1, r2, r3 float64) (float64, float64, float64) {
		da := r1*(p2.sy-p3.sy) - p1.sy*(r2-r3) + (r2*p3.sy - r3*p2.sy)
		db := p1.sx*(r2-r3) - r1*(p2.sx-p3.sx) + (p2.sx*r3 - p3.sx*r2)
		dc := p1.sx*(p2.sy*r3-p3.sy*r2) - p1.sy*(p2.sx*r3-p3.sx*r2) + r1*(p2.sx*p3.sy-p3.sx*p2.sy)
		return da / det, db / det, dc / det
	}

	var m affine
	m.a, m.b, m.c = solve(p1.dx, p2.dx, p3.dx)
	m.d, m.e, m.f = solve(p1.dy, p2.dy, p3.dy)

	return m, true
}
