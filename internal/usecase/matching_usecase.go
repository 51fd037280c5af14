package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/DRSN-tech/match-service/internal/domain"
	"github.com/DRSN-tech/match-service/internal/events"
	"github.com/DRSN-tech/match-service/internal/matching"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/DRSN-tech/match-service/pkg/logger"
	transaction "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// ProgressKindMatch — вид актива фазы матчинга в счётчиках прогресса.
	ProgressKindMatch = "match"
	// MatchEventPrefix — префикс события завершения фазы матчинга.
	MatchEventPrefix = "match"
)

// MatchingUseCase реализует движок матчинга: оркестрацию
// retrieval → scoring → aggregation для одной тройки (задача, продукт, видео).
type MatchingUseCase struct {
	assetRepo      AssetRepository
	matchRepo      MatchRepository
	outboxRepo     OutboxRepository
	cacheRepo      FrameCacheRepository
	descriptorRepo DescriptorRepository
	dbPool         transaction.Transactional
	retriever      *matching.Retriever
	scorer         *matching.Scorer
	aggregator     *matching.Aggregator
	progress       ProgressReporter
	logger         logger.Logger
	topK           int
	maxConcurrent  int
}

func NewMatchingUC(
	assetRepo AssetRepository,
	matchRepo MatchRepository,
	outboxRepo OutboxRepository,
	cacheRepo FrameCacheRepository,
	descriptorRepo DescriptorRepository,
	dbPool transaction.Transactional,
	retriever *matching.Retriever,
	scorer *matching.Scorer,
	aggregator *matching.Aggregator,
	progress ProgressReporter,
	logger logger.Logger,
	topK int,
	maxConcurrent int,
) *MatchingUseCase {
	return &MatchingUseCase{
		assetRepo:      assetRepo,
		matchRepo:      matchRepo,
		outboxRepo:     outboxRepo,
		cacheRepo:      cacheRepo,
		descriptorRepo: descriptorRepo,
		dbPool:         dbPool,
		retriever:      retriever,
		scorer:         scorer,
		aggregator:     aggregator,
		progress:       progress,
		logger:         logger,
		topK:           topK,
		maxConcurrent:  maxConcurrent,
	}
}

// MatchProductVideo проверяет одну тройку (задача, продукт, видео).
// Пустой набор изображений или кадров — no-op, а не ошибка. Принятое
// совпадение персистится вместе с событием результата в одной транзакции;
// повторный прогон той же тройки не создаёт вторую запись.
func (m *MatchingUseCase) MatchProductVideo(ctx context.Context, req *MatchReq) (*MatchRes, error) {
	const op = "MatchingUseCase.MatchProductVideo"

	if err := m.validate(req); err != nil {
		return nil, e.Wrap(op, err)
	}

	images, err := m.assetRepo.ProductImages(ctx, req.JobID, req.ProductID)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	frames, err := m.videoFrames(ctx, req.JobID, req.VideoID)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if len(images) == 0 || len(frames) == 0 {
		m.logger.Debugf("nothing to match. job_id: %s, images: %d, frames: %d", req.JobID, len(images), len(frames))
		m.reportProgress(ctx, req.JobID)
		return NewMatchRes(false, false, nil), nil
	}

	pairs := m.collectPairs(ctx, req.JobID, images, frames)

	decision := m.aggregator.Aggregate(pairs)
	if decision == nil {
		m.reportProgress(ctx, req.JobID)
		return NewMatchRes(false, false, nil), nil
	}

	match, created, err := m.persistMatch(ctx, req, decision)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if created {
		m.logger.Infof("match accepted. job_id: %s, product_id: %d, video_id: %d, best_img_id: %d, best_frame_id: %d, score: %.3f",
			req.JobID, req.ProductID, req.VideoID, decision.BestImgID, decision.BestFrameID, decision.Score)
	}

	m.reportProgress(ctx, req.JobID)

	return NewMatchRes(true, !created, match), nil
}

// videoFrames возвращает кадры видео, предпочитая кэш; промах или ошибка
// кэша деградируют к чтению из БД с фоновым дозаполнением кэша.
func (m *MatchingUseCase) videoFrames(ctx context.Context, jobID string, videoID int64) ([]domain.VideoFrame, error) {
	frames, err := m.cacheRepo.GetFrames(ctx, jobID, videoID)
	if err == nil {
		return frames, nil
	}

	frames, err = m.assetRepo.VideoFrames(ctx, jobID, videoID)
	if err != nil {
		return nil, err
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		if err := m.cacheRepo.SetFrames(bgCtx, jobID, videoID, frames); err != nil {
			m.logger.Warnf("failed to cache video frames in background: %v", err)
		}
	}()

	return frames, nil
}

// collectPairs прогоняет retrieval и scoring для каждого изображения.
// Пары независимы: отказ оценки одной пары логируется и пара считается
// отсутствующей, соседние пары и задача продолжаются.
func (m *MatchingUseCase) collectPairs(ctx context.Context, jobID string, images []domain.ProductImage, frames []domain.VideoFrame) []domain.PairScore {
	frameByID := make(map[int64]*domain.VideoFrame, len(frames))
	for i := range frames {
		frameByID[frames[i].FrameID] = &frames[i]
	}

	blobs := newDescriptorCache(m.descriptorRepo, m.logger)

	var pairs []domain.PairScore
	for i := range images {
		img := &images[i]

		ranked := m.retriever.Retrieve(ctx, img.Emb, jobID, frames, m.topK)
		if len(ranked) == 0 {
			continue
		}

		imgBlob := blobs.load(ctx, img.KeypointRef)
		pairs = append(pairs, m.scoreCandidates(ctx, jobID, img, imgBlob, ranked, frameByID, blobs)...)
	}

	return pairs
}

// scoreCandidates оценивает кандидатов одного изображения параллельно
// с ограничением конкурентности.
func (m *MatchingUseCase) scoreCandidates(
	ctx context.Context,
	jobID string,
	img *domain.ProductImage,
	imgBlob []byte,
	ranked []matching.RankedFrame,
	frameByID map[int64]*domain.VideoFrame,
	blobs *descriptorCache,
) []domain.PairScore {
	pairCh := make(chan domain.PairScore, len(ranked))
	sem := make(chan struct{}, m.maxConcurrent)

	var wg sync.WaitGroup
	for _, cand := range ranked {
		frame, ok := frameByID[cand.FrameID]
		if !ok {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			frameBlob := blobs.load(ctx, frame.KeypointRef)

			score, err := m.scorer.Score(img, frame, imgBlob, frameBlob)
			if err != nil {
				m.logger.Warnf("pair scoring failed, pair skipped. job_id: %s, img_id: %d, frame_id: %d, error: %v",
					jobID, img.ImgID, frame.FrameID, err)
				return
			}

			pairCh <- domain.PairScore{
				ImgID:   img.ImgID,
				FrameID: frame.FrameID,
				TS:      frame.TS,
				Score:   score,
			}
		}()
	}

	wg.Wait()
	close(pairCh)

	pairs := make([]domain.PairScore, 0, len(ranked))
	for pair := range pairCh {
		pairs = append(pairs, pair)
	}

	return pairs
}

// persistMatch сохраняет совпадение и событие результата в одной транзакции.
// Конфликт по естественному ключу — не ошибка: совпадение уже было
// зафиксировано, событие повторно не пишется.
func (m *MatchingUseCase) persistMatch(ctx context.Context, req *MatchReq, decision *matching.Decision) (*domain.Match, bool, error) {
	ctx, tx, err := transaction.NewTransaction(ctx, pgx.TxOptions{}, m.dbPool)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil && tx.IsActive() {
			tx.Rollback(ctx)
		}
	}()
	ctx = context.WithValue(ctx, "tx", tx.Transaction())

	match := domain.NewMatch(
		uuid.NewString(),
		req.JobID,
		req.ProductID,
		req.VideoID,
		decision.BestImgID,
		decision.BestFrameID,
		decision.TS,
		decision.Score,
	)

	created, err := m.matchRepo.Create(ctx, match)
	if err != nil {
		return nil, false, err
	}

	if created {
		if err = m.enqueueResultEvent(ctx, req, decision); err != nil {
			return nil, false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	if !created {
		return nil, false, nil
	}

	return match, true, nil
}

// enqueueResultEvent кладёт событие о совпадении в outbox.
func (m *MatchingUseCase) enqueueResultEvent(ctx context.Context, req *MatchReq, decision *matching.Decision) error {
	payload, err := events.Wrap(events.TypeMatchResult, &events.MatchResult{
		JobID:     req.JobID,
		ProductID: req.ProductID,
		VideoID:   req.VideoID,
		BestPair: events.BestPair{
			ImgID:     decision.BestImgID,
			FrameID:   decision.BestFrameID,
			ScorePair: decision.Score,
		},
		Score: decision.Score,
		TS:    decision.TS,
	})
	if err != nil {
		return err
	}

	_, err = m.outboxRepo.Create(ctx, NewOutboxEvent(uuid.NewString(), MatchResultEvent, req.JobID, payload))

	return err
}

// reportProgress учитывает завершённую проверку тройки в фазе матчинга.
// Ошибка публикации не валит результат матчинга, только логируется.
func (m *MatchingUseCase) reportProgress(ctx context.Context, jobID string) {
	if m.progress == nil {
		return
	}

	if _, err := m.progress.OnIncrement(ctx, jobID, ProgressKindMatch, MatchEventPrefix); err != nil {
		m.logger.Warnf("failed to report matching progress. job_id: %s, error: %v", jobID, err)
	}
}

func (m *MatchingUseCase) validate(req *MatchReq) error {
	if req.JobID == "" {
		return e.ErrJobIDRequired
	}

	if req.ProductID <= 0 || req.VideoID <= 0 {
		return e.ErrMatchKeyInvalid
	}

	return nil
}

// descriptorCache — кэш blob'ов дескрипторов на один вызов матчинга:
// один и тот же кадр попадает в кандидаты нескольких изображений.
// Конкурентные запросы одного ref разделяют одну загрузку: первый вызов
// становится загрузчиком, остальные ждут его результата. Отсутствующий
// или недоступный blob деградирует до nil — компоненты оценки, которым
// он нужен, дадут 0, вызов не падает.
type descriptorCache struct {
	repo   DescriptorRepository
	logger logger.Logger
	mu     sync.Mutex
	blobs  map[string]*descriptorBlob
}

type descriptorBlob struct {
	ready chan struct{} // закрывается загрузчиком
	data  []byte
}

func newDescriptorCache(repo DescriptorRepository, logger logger.Logger) *descriptorCache {
	return &descriptorCache{
		repo:   repo,
		logger: logger,
		blobs:  make(map[string]*descriptorBlob),
	}
}

func (c *descriptorCache) load(ctx context.Context, ref string) []byte {
	if ref == "" || c.repo == nil {
		return nil
	}

	c.mu.Lock()
	blob, ok := c.blobs[ref]
	if !ok {
		blob = &descriptorBlob{ready: make(chan struct{})}
		c.blobs[ref] = blob
	}
	c.mu.Unlock()

	if !ok {
		data, err := c.repo.Load(ctx, ref)
		if err != nil {
			c.logger.Warnf("descriptor load failed, scoring without keypoints. ref: %s, error: %v", ref, err)
			data = nil
		}
		blob.data = data
		close(blob.ready)
		return blob.data
	}

	select {
	case <-blob.ready:
		return blob.data
	case <-ctx.Done():
		return nil
	}
}
