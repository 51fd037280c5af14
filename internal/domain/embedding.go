package domain

// EmbeddingDim — размерность векторов, которые отдаёт ML-сервис.
const EmbeddingDim = 512

// Vector — L2-нормализованный embedding-вектор изображения.
type Vector []float32

// Cosine возвращает косинусную близость двух векторов.
// Векторы нормализованы, поэтому близость равна скалярному произведению.
// Для векторов разной длины или пустых векторов возвращает 0.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	return dot
}

// EmbeddingPair — пара эмбеддингов одного изображения: цветной канал и градации серого.
// Любой из каналов может отсутствовать, пока инференс не отработал.
type EmbeddingPair struct {
	RGB  Vector
	Gray Vector
}

// Empty сообщает, что ни один канал ещё не посчитан.
func (p *EmbeddingPair) Empty() bool {
	return p == nil || (len(p.RGB) == 0 && len(p.Gray) == 0)
}

func NewEmbeddingPair(rgb, gray Vector) *EmbeddingPair {
	return &EmbeddingPair{
		RGB:  rgb,
		Gray: gray,
	}
}
