package converter

import "time"

// MatchModel представляет запись таблицы matches в PostgreSQL.
type MatchModel struct {
	ID          string    `db:"id"`
	JobID       string    `db:"job_id"`
	ProductID   int64     `db:"product_id"`
	VideoID     int64     `db:"video_id"`
	BestImgID   int64     `db:"best_img_id"`
	BestFrameID int64     `db:"best_frame_id"`
	TS          float64   `db:"ts"`
	Score       float64   `db:"score"`
	CreatedAt   time.Time `db:"created_at"`
}

// ProductImageModel представляет запись таблицы product_images в PostgreSQL.
// Embedding-каналы и ссылка на дескрипторы заполняются write-once и до
// этого NULL.
type ProductImageModel struct {
	ImgID       int64     `db:"img_id"`
	ProductID   int64     `db:"product_id"`
	EmbRGB      []float32 `db:"emb_rgb"`
	EmbGray     []float32 `db:"emb_gray"`
	KeypointRef *string   `db:"keypoint_ref"`
}

// VideoFrameModel представляет запись таблицы video_frames в PostgreSQL.
type VideoFrameModel struct {
	FrameID     int64     `db:"frame_id"`
	VideoID     int64     `db:"video_id"`
	TS          float64   `db:"ts"`
	EmbRGB      []float32 `db:"emb_rgb"`
	EmbGray     []float32 `db:"emb_gray"`
	KeypointRef *string   `db:"keypoint_ref"`
}

// OutboxEventModel представляет запись таблицы outbox_events в PostgreSQL.
type OutboxEventModel struct {
	ID          int64      `db:"id"`
	EventID     string     `db:"event_id"`
	EventType   string     `db:"event_type"`
	JobID       string     `db:"job_id"`
	Payload     []byte     `db:"payload"`
	Status      string     `db:"status"`
	CreatedAt   time.Time  `db:"created_at"`
	ProcessedAt *time.Time `db:"processed_at"`
}
