package domain

// VideoFrame описывает кадр видеоролика в рамках одной задачи.
// Жизненный цикл полей такой же, как у ProductImage: эмбеддинги и
// дескрипторы заполняются write-once после инференса.
type VideoFrame struct {
	FrameID int64
	VideoID int64
	// TS — позиция кадра в видео, в секундах.
	TS          float64
	Emb         *EmbeddingPair
	KeypointRef string
}

func NewVideoFrame(frameID, videoID int64, ts float64, emb *EmbeddingPair, keypointRef string) *VideoFrame {
	return &VideoFrame{
		FrameID:     frameID,
		VideoID:     videoID,
		TS:          ts,
		Emb:         emb,
		KeypointRef: keypointRef,
	}
}
