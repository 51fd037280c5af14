package domain

import "time"

// PairScore — композитная оценка одной пары (изображение, кадр).
// Живёт только внутри одного вызова матчинга, никогда не персистится.
type PairScore struct {
	ImgID   int64
	FrameID int64
	TS      float64
	Score   float64
}

// Match — принятое решение о совпадении продукта и видео.
// Естественный ключ (JobID, ProductID, VideoID); повторная проверка той же
// тройки не должна создавать вторую запись. После создания запись терминальна.
type Match struct {
	ID          string // uuid
	JobID       string
	ProductID   int64
	VideoID     int64
	BestImgID   int64
	BestFrameID int64
	TS          float64
	Score       float64
	CreatedAt   time.Time
}

func NewMatch(id, jobID string, productID, videoID, bestImgID, bestFrameID int64, ts, score float64) *Match {
	return &Match{
		ID:          id,
		JobID:       jobID,
		ProductID:   productID,
		VideoID:     videoID,
		BestImgID:   bestImgID,
		BestFrameID: bestFrameID,
		TS:          ts,
		Score:       score,
	}
}
