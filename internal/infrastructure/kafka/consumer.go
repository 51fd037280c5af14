package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DRSN-tech/match-service/internal/cfg"
	"github.com/DRSN-tech/match-service/internal/events"
	"github.com/DRSN-tech/match-service/internal/progress"
	"github.com/DRSN-tech/match-service/internal/usecase"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/DRSN-tech/match-service/pkg/jitter"
	"github.com/DRSN-tech/match-service/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/segmentio/kafka-go"
)

// Consumer читает входные события задания из Kafka и раздаёт их
// движку сопоставления и трекеру прогресса.
type Consumer struct {
	reader    *kafka.Reader
	matching  usecase.MatchingUC
	tracker   *progress.Tracker
	publisher *progress.Publisher
	logger    logger.Logger
	stop      chan struct{}
	wg        sync.WaitGroup
}

func NewConsumer(
	cfg *cfg.KafkaCfg,
	matching usecase.MatchingUC,
	tracker *progress.Tracker,
	publisher *progress.Publisher,
	logger logger.Logger,
) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.RequestsTopic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // синхронный коммит после обработки
	})

	return &Consumer{
		reader:    reader,
		matching:  matching,
		tracker:   tracker,
		publisher: publisher,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

func (c *Consumer) Stop() error {
	close(c.stop)
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) run(ctx context.Context) {
	fetchAttempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Warnf("Fetch failed: %v", err)
			sleepTime := jitter.ExponentialBackoff(time.Second, 30*time.Second, fetchAttempt, jitter.DefaultJitter)
			select {
			case <-time.After(sleepTime):
			case <-c.stop:
				return
			}
			fetchAttempt++
			continue
		}
		fetchAttempt = 0

		if err := c.handleWithRetry(ctx, msg.Value); err != nil {
			// Сообщение всё равно коммитим: повтор того же события
			// даст тот же результат, а пропуск заблокирует партицию.
			c.logger.Errorf(err, "Event handling failed, offset %d", msg.Offset)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warnf("Commit failed: %v", err)
		}
	}
}

// handleWithRetry повторяет обработку при транзиентных ошибках инфраструктуры
// прежде чем сдаться: недоступная на секунду база не должна терять запрос.
// Невосстановимые ошибки (кривой payload, ошибка валидации) не повторяются.
func (c *Consumer) handleWithRetry(ctx context.Context, value []byte) error {
	const maxAttempts = 5

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = c.handleMessage(ctx, value)
		if err == nil || !isRetryableError(err) {
			return err
		}

		sleepTime := jitter.ExponentialBackoff(time.Second, 30*time.Second, attempt, jitter.DefaultJitter)
		c.logger.Warnf("Retryable handling error, retrying in %v: %v", sleepTime, err)
		select {
		case <-time.After(sleepTime):
		case <-ctx.Done():
			return err
		case <-c.stop:
			return err
		}
	}

	return err
}

func (c *Consumer) handleMessage(ctx context.Context, value []byte) error {
	env, err := events.Unwrap(value)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	switch env.Type {
	case events.TypeMatchRequest:
		return c.handleMatchRequest(ctx, env)
	case events.TypeAssetProcessed:
		return c.handleAssetProcessed(ctx, env)
	case events.TypeExpectedCount:
		return c.handleExpectedCount(ctx, env)
	case events.TypeJobCancelled:
		return c.handleJobCancelled(env)
	default:
		c.logger.Debugf("Skipping event of type %q", env.Type)
		return nil
	}
}

func (c *Consumer) handleMatchRequest(ctx context.Context, env *events.Envelope) error {
	req, err := events.Decode[events.MatchRequest](env)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	res, err := c.matching.MatchProductVideo(ctx, usecase.NewMatchReq(req.JobID, req.ProductID, req.VideoID))
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	c.logger.Debugf("Match request done: job=%s product=%d video=%d matched=%t",
		req.JobID, req.ProductID, req.VideoID, res.Matched)
	return nil
}

func (c *Consumer) handleAssetProcessed(ctx context.Context, env *events.Envelope) error {
	ev, err := events.Decode[events.AssetProcessed](env)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	published, err := c.publisher.OnIncrement(ctx, ev.JobID, ev.Kind, ev.EventPrefix)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if published {
		c.logger.Infof("Phase %q completed for job %s", ev.Kind, ev.JobID)
	}
	return nil
}

func (c *Consumer) handleExpectedCount(ctx context.Context, env *events.Envelope) error {
	ev, err := events.Decode[events.ExpectedCount](env)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	published, err := c.publisher.OnExpectedUpdated(ctx, ev.JobID, ev.Kind, ev.Expected, ev.EventPrefix)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	if published {
		c.logger.Infof("Phase %q completed for job %s", ev.Kind, ev.JobID)
	}
	return nil
}

func (c *Consumer) handleJobCancelled(env *events.Envelope) error {
	ev, err := events.Decode[events.JobCancelled](env)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	c.tracker.DiscardJob(ev.JobID)
	c.logger.Infof("Job %s cancelled, progress state discarded", ev.JobID)
	return nil
}
