// Package events описывает полезные нагрузки событий пайплайна.
// Все события — явные типизированные записи с фиксированным набором полей,
// а не свободные map'ы: форма проверяется на этапе компиляции.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/DRSN-tech/match-service/pkg/e"
)

// Типы событий в envelope.
const (
	TypeMatchRequest    = "match.request"
	TypeMatchResult     = "match.result"
	TypeAssetProcessed  = "asset.processed"
	TypeExpectedCount   = "asset.expected"
	TypePhaseCompletion = "phase.completed"
	TypeJobCancelled    = "job.cancelled"
)

// Envelope — обёртка входящего события: тег типа и сырой payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MatchRequest — запрос на проверку одной пары (продукт, видео) в рамках задачи.
type MatchRequest struct {
	JobID     string `json:"job_id"`
	ProductID int64  `json:"product_id"`
	VideoID   int64  `json:"video_id"`
}

// AssetProcessed — сигнал стадии пайплайна об одном обработанном активе.
type AssetProcessed struct {
	JobID       string `json:"job_id"`
	Kind        string `json:"kind"`
	EventPrefix string `json:"event_prefix"`
}

// ExpectedCount — уточнённое ожидаемое число активов для ключа прогресса.
type ExpectedCount struct {
	JobID       string `json:"job_id"`
	Kind        string `json:"kind"`
	EventPrefix string `json:"event_prefix"`
	Expected    int64  `json:"expected"`
}

// JobCancelled — задача отменена или замещена; её состояние прогресса сбрасывается.
type JobCancelled struct {
	JobID string `json:"job_id"`
}

// BestPair — доказательство совпадения: лучшая пара (изображение, кадр).
type BestPair struct {
	ImgID     int64   `json:"img_id"`
	FrameID   int64   `json:"frame_id"`
	ScorePair float64 `json:"score_pair"`
}

// MatchResult — событие о принятом совпадении, ровно одно на принятую пару.
type MatchResult struct {
	JobID     string   `json:"job_id"`
	ProductID int64    `json:"product_id"`
	VideoID   int64    `json:"video_id"`
	BestPair  BestPair `json:"best_pair"`
	Score     float64  `json:"score"`
	TS        float64  `json:"ts"`
}

// PhaseCompletion — сигнал о завершении фазы, не более одного на
// (job, kind, event_prefix). Сериализуется c динамическим ключом счётчика
// `<kind>_count` — форму события ждут потребители ниже по пайплайну.
type PhaseCompletion struct {
	EventID     string
	JobID       string
	Kind        string
	EventPrefix string
	Count       int64
}

func NewPhaseCompletion(eventID, jobID, kind, eventPrefix string, count int64) *PhaseCompletion {
	return &PhaseCompletion{
		EventID:     eventID,
		JobID:       jobID,
		Kind:        kind,
		EventPrefix: eventPrefix,
		Count:       count,
	}
}

func (p *PhaseCompletion) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"event_id":                     p.EventID,
		"job_id":                       p.JobID,
		"event_prefix":                 p.EventPrefix,
		fmt.Sprintf("%s_count", p.Kind): p.Count,
	}

	return json.Marshal(payload)
}

// Unwrap разбирает сырое сообщение в envelope.
func Unwrap(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, e.Wrap("unwrap event envelope", err)
	}
	if env.Type == "" {
		return nil, e.ErrUnknownEvent
	}

	return &env, nil
}

// Decode разбирает payload envelope в конкретную структуру события.
func Decode[T any](env *Envelope) (*T, error) {
	var event T
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		return nil, e.Wrap(fmt.Sprintf("decode %s", env.Type), err)
	}

	return &event, nil
}

// Wrap упаковывает событие в envelope указанного типа.
func Wrap(eventType string, event any) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, e.Wrap("marshal event payload", err)
	}

	return json.Marshal(Envelope{
		Type:    eventType,
		Payload: payload,
	})
}
