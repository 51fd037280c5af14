package usecase

import (
	"time"

	"github.com/DRSN-tech/match-service/internal/domain"
)

// MATCHING USECASE

// MatchReq — запрос на проверку одной тройки (задача, продукт, видео).
type MatchReq struct {
	JobID     string
	ProductID int64
	VideoID   int64
}

// MatchRes — итог проверки. Matched == false — совпадения нет, это не ошибка.
// AlreadyMatched выставляется, когда совпадение для тройки уже было
// зафиксировано ранее: повторная проверка не создаёт дубликат.
type MatchRes struct {
	Matched        bool
	AlreadyMatched bool
	Match          *domain.Match
}

// OUTBOX

type OutboxStatus string

const (
	Pending    OutboxStatus = "pending"
	Processing OutboxStatus = "processing"
	Processed  OutboxStatus = "processed"
)

type OutboxEventType string

const (
	MatchResultEvent OutboxEventType = "match_result"
)

// OutboxEvent — событие транзакционного outbox: пишется в одной транзакции
// с данными, отдельный worker доставляет его в Kafka.
type OutboxEvent struct {
	ID          int64
	EventID     string // uuid
	EventType   OutboxEventType
	JobID       string
	Payload     []byte
	Status      OutboxStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// INFRASTRUCTURE

type WriteRawMessageReq struct {
	Key     string
	Payload []byte
}

// MAPPERS

func NewMatchReq(jobID string, productID, videoID int64) *MatchReq {
	return &MatchReq{
		JobID:     jobID,
		ProductID: productID,
		VideoID:   videoID,
	}
}

func NewMatchRes(matched, alreadyMatched bool, match *domain.Match) *MatchRes {
	return &MatchRes{
		Matched:        matched,
		AlreadyMatched: alreadyMatched,
		Match:          match,
	}
}

func NewOutboxEvent(eventID string, eventType OutboxEventType, jobID string, payload []byte) *OutboxEvent {
	return &OutboxEvent{
		EventID:   eventID,
		EventType: eventType,
		JobID:     jobID,
		Payload:   payload,
		Status:    Pending,
		CreatedAt: time.Now().UTC(),
	}
}

func NewWriteRawMessageReq(key string, payload []byte) *WriteRawMessageReq {
	return &WriteRawMessageReq{
		Key:     key,
		Payload: payload,
	}
}
