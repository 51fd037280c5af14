package progress

import (
	"context"

	"github.com/DRSN-tech/match-service/internal/events"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/DRSN-tech/match-service/pkg/logger"
	"github.com/google/uuid"
)

// CompletionSink — приёмник событий о завершении фазы.
type CompletionSink interface {
	PublishCompletion(ctx context.Context, event *events.PhaseCompletion) error
}

// Publisher оборачивает Tracker правилом идемпотичной публикации:
// сигнал о завершении фазы для ключа (job, kind, event_prefix) уходит
// не более одного раза, сколько бы вызовов и гонок ни было.
type Publisher struct {
	tracker   *Tracker
	threshold float64
	sink      CompletionSink
	logger    logger.Logger
}

// NewPublisher создаёт публикатор. threshold — доля обработанных активов
// в (0,1], при достижении которой фаза считается завершённой:
// "обработано достаточно" — поддерживаемый исход, не обязательно 1.0.
func NewPublisher(tracker *Tracker, threshold float64, sink CompletionSink, logger logger.Logger) (*Publisher, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, e.ErrBadThreshold
	}

	return &Publisher{
		tracker:   tracker,
		threshold: threshold,
		sink:      sink,
		logger:    logger,
	}, nil
}

// OnIncrement учитывает один обработанный актив и публикует завершение фазы,
// если порог только что достигнут. Возвращает, опубликовал ли именно этот вызов.
func (p *Publisher) OnIncrement(ctx context.Context, jobID, kind, eventPrefix string) (bool, error) {
	ent := p.tracker.entry(jobID, kind)

	ent.mu.Lock()
	ent.done++
	count, newly := p.evaluateLocked(ent, eventPrefix)
	ent.mu.Unlock()

	if !newly {
		return false, nil
	}

	return true, p.emit(ctx, jobID, kind, eventPrefix, count)
}

// OnExpectedUpdated замещает ожидаемое число активов и переоценивает
// завершение против уже накопленного done: заниженная ранняя оценка может
// завершить фазу сразу после уточнения, не дожидаясь нового инкремента.
func (p *Publisher) OnExpectedUpdated(ctx context.Context, jobID, kind string, realExpected int64, eventPrefix string) (bool, error) {
	ent := p.tracker.entry(jobID, kind)

	ent.mu.Lock()
	ent.expected = realExpected
	count, newly := p.evaluateLocked(ent, eventPrefix)
	ent.mu.Unlock()

	if !newly {
		return false, nil
	}

	return true, p.emit(ctx, jobID, kind, eventPrefix, count)
}

// evaluateLocked атомарно проверяет предикат завершения и помечает публикацию.
// Вызывается строго под ent.mu: проверка и установка — одна операция,
// конкурентный публикатор не может вклиниться между ними.
func (p *Publisher) evaluateLocked(ent *entry, eventPrefix string) (int64, bool) {
	if ent.published[eventPrefix] {
		return 0, false
	}

	if !p.complete(ent.done, ent.expected) {
		return 0, false
	}

	ent.published[eventPrefix] = true

	return ent.done, true
}

// complete — предикат завершения фазы: done/expected ≥ threshold.
// Незарегистрированное ожидание — не ноль: пока производитель не отчитался,
// фаза не может завершиться. expected == 0 означает, что ждать нечего —
// фаза завершена; отрицательный done никогда не считается завершением.
func (p *Publisher) complete(done, expected int64) bool {
	if expected == ExpectedUnknown {
		return false
	}
	if expected == 0 {
		return true
	}
	if done < 0 {
		return false
	}

	return float64(done)/float64(expected) >= p.threshold
}

func (p *Publisher) emit(ctx context.Context, jobID, kind, eventPrefix string, count int64) error {
	const op = "Publisher.emit"

	event := events.NewPhaseCompletion(uuid.NewString(), jobID, kind, eventPrefix, count)
	if err := p.sink.PublishCompletion(ctx, event); err != nil {
		// Флаг публикации уже выставлен: гарантия "не более одного раза"
		// важнее доставки, повторной попытки не будет.
		p.logger.Errorf(err, "phase completion publish failed. job_id: %s, kind: %s", jobID, kind)
		return e.Wrap(op, err)
	}

	p.logger.Infof("phase completed. job_id: %s, kind: %s, prefix: %s, count: %d", jobID, kind, eventPrefix, count)

	return nil
}
