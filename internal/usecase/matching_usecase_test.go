package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DRSN-tech/match-service/internal/domain"
	"github.com/DRSN-tech/match-service/internal/events"
	"github.com/DRSN-tech/match-service/internal/matching"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)        {}
func (nopLogger) Infof(string, ...any)         {}
func (nopLogger) Warnf(string, ...any)         {}
func (nopLogger) Errorf(error, string, ...any) {}

// fakeTx — заглушка pgx.Tx для транзакционного пути без базы данных.
type fakeTx struct{}

func (fakeTx) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }
func (fakeTx) Commit(context.Context) error          { return nil }
func (fakeTx) Rollback(context.Context) error        { return nil }
func (fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (fakeTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (fakeTx) Conn() *pgx.Conn                                         { return nil }

type fakeDB struct{}

func (fakeDB) Begin(context.Context) (pgx.Tx, error)                  { return fakeTx{}, nil }
func (fakeDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) { return fakeTx{}, nil }

type fakeAssetRepo struct {
	images []domain.ProductImage
	frames []domain.VideoFrame

	framesCalls int
}

func (f *fakeAssetRepo) ProductImages(context.Context, string, int64) ([]domain.ProductImage, error) {
	return f.images, nil
}

func (f *fakeAssetRepo) VideoFrames(context.Context, string, int64) ([]domain.VideoFrame, error) {
	f.framesCalls++
	return f.frames, nil
}

type matchKey struct {
	jobID     string
	productID int64
	videoID   int64
}

type fakeMatchRepo struct {
	mu      sync.Mutex
	created map[matchKey]*domain.Match
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{created: make(map[matchKey]*domain.Match)}
}

func (f *fakeMatchRepo) Create(_ context.Context, match *domain.Match) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := matchKey{match.JobID, match.ProductID, match.VideoID}
	if _, ok := f.created[key]; ok {
		return false, nil
	}
	f.created[key] = match
	return true, nil
}

type fakeOutboxRepo struct {
	mu     sync.Mutex
	events []*OutboxEvent
}

func (f *fakeOutboxRepo) Create(_ context.Context, event *OutboxEvent) (*OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeOutboxRepo) GetAndMarkAsProcessing(context.Context, int) ([]*OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) MarkAsProcessed(context.Context, int64) error { return nil }

func (f *fakeOutboxRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeCacheRepo struct {
	hit    []domain.VideoFrame
	setany chan struct{}
}

func (f *fakeCacheRepo) GetFrames(context.Context, string, int64) ([]domain.VideoFrame, error) {
	if f.hit != nil {
		return f.hit, nil
	}
	return nil, e.ErrCacheMiss
}

func (f *fakeCacheRepo) SetFrames(context.Context, string, int64, []domain.VideoFrame) error {
	if f.setany != nil {
		select {
		case f.setany <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *fakeCacheRepo) DeleteFrames(context.Context, string, int64) error { return nil }

type fakeDescriptorRepo struct {
	blobs map[string][]byte
	err   error
	loads int64
	delay time.Duration
}

func (f *fakeDescriptorRepo) Load(_ context.Context, ref string) ([]byte, error) {
	atomic.AddInt64(&f.loads, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	blob, ok := f.blobs[ref]
	if !ok {
		return nil, e.ErrDescriptorNotFound
	}
	return blob, nil
}

type fakeProgress struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeProgress) OnIncrement(context.Context, string, string, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return false, nil
}

func (f *fakeProgress) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeVerifier struct {
	ratio   float64
	failOn  []byte
	failErr error
}

func (f *fakeVerifier) InlierRatio(_, frameBlob []byte) (float64, error) {
	if f.failOn != nil && bytes.Equal(frameBlob, f.failOn) {
		return 0, f.failErr
	}
	return f.ratio, nil
}

type ucFixture struct {
	uc         *MatchingUseCase
	assetRepo  *fakeAssetRepo
	matchRepo  *fakeMatchRepo
	outboxRepo *fakeOutboxRepo
	cacheRepo  *fakeCacheRepo
	progress   *fakeProgress
}

func newFixture(assetRepo *fakeAssetRepo, cacheRepo *fakeCacheRepo, descriptorRepo *fakeDescriptorRepo, verifier matching.Verifier) *ucFixture {
	log := nopLogger{}

	matchRepo := newFakeMatchRepo()
	outboxRepo := &fakeOutboxRepo{}
	progress := &fakeProgress{}

	uc := NewMatchingUC(
		assetRepo,
		matchRepo,
		outboxRepo,
		cacheRepo,
		descriptorRepo,
		fakeDB{},
		matching.NewRetriever(nil, time.Second, log),
		matching.NewScorer(verifier, matching.DefaultWeights(), 0.35, log),
		matching.NewAggregator(matching.DefaultThresholds()),
		progress,
		log,
		50,
		4,
	)

	return &ucFixture{
		uc:         uc,
		assetRepo:  assetRepo,
		matchRepo:  matchRepo,
		outboxRepo: outboxRepo,
		cacheRepo:  cacheRepo,
		progress:   progress,
	}
}

func rgbEmb() *domain.EmbeddingPair {
	return &domain.EmbeddingPair{RGB: domain.Vector{1, 0, 0, 0}}
}

func testAssets() *fakeAssetRepo {
	return &fakeAssetRepo{
		images: []domain.ProductImage{
			{ImgID: 1, ProductID: 7, Emb: rgbEmb(), KeypointRef: "img-1"},
			{ImgID: 2, ProductID: 7, Emb: rgbEmb(), KeypointRef: "img-2"},
		},
		frames: []domain.VideoFrame{
			{FrameID: 100, VideoID: 9, TS: 1.5, Emb: rgbEmb(), KeypointRef: "frame-100"},
			{FrameID: 101, VideoID: 9, TS: 2.0, Emb: rgbEmb(), KeypointRef: "frame-101"},
		},
	}
}

func testBlobs() *fakeDescriptorRepo {
	return &fakeDescriptorRepo{blobs: map[string][]byte{
		"img-1":     []byte("blob-i1"),
		"img-2":     []byte("blob-i2"),
		"frame-100": []byte("blob-f100"),
		"frame-101": []byte("blob-f101"),
	}}
}

func TestMatchProductVideoValidation(t *testing.T) {
	f := newFixture(testAssets(), &fakeCacheRepo{}, testBlobs(), &fakeVerifier{})

	if _, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("", 7, 9)); !errors.Is(err, e.ErrJobIDRequired) {
		t.Fatalf("expected ErrJobIDRequired, got %v", err)
	}
	if _, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 0, 9)); !errors.Is(err, e.ErrMatchKeyInvalid) {
		t.Fatalf("expected ErrMatchKeyInvalid, got %v", err)
	}
	if _, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, -1)); !errors.Is(err, e.ErrMatchKeyInvalid) {
		t.Fatalf("expected ErrMatchKeyInvalid, got %v", err)
	}
}

func TestMatchProductVideoNoAssets(t *testing.T) {
	f := newFixture(&fakeAssetRepo{}, &fakeCacheRepo{}, testBlobs(), &fakeVerifier{})

	res, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, 9))
	if err != nil {
		t.Fatalf("MatchProductVideo: %v", err)
	}
	if res.Matched {
		t.Fatal("expected no match without assets")
	}
	if f.progress.count() != 1 {
		t.Fatalf("no-op must still count toward progress, got %d increments", f.progress.count())
	}
	if f.outboxRepo.count() != 0 {
		t.Fatal("no-op must not enqueue events")
	}
}

func TestMatchProductVideoAccepted(t *testing.T) {
	f := newFixture(testAssets(), &fakeCacheRepo{}, testBlobs(), &fakeVerifier{ratio: 1.0})

	res, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, 9))
	if err != nil {
		t.Fatalf("MatchProductVideo: %v", err)
	}
	if !res.Matched || res.AlreadyMatched {
		t.Fatalf("expected fresh match, got %+v", res)
	}
	if res.Match == nil {
		t.Fatal("expected match evidence")
	}
	if res.Match.JobID != "job-1" || res.Match.ProductID != 7 || res.Match.VideoID != 9 {
		t.Fatalf("unexpected match key: %+v", res.Match)
	}
	if res.Match.Score < 0.80 {
		t.Fatalf("expected strong score, got %f", res.Match.Score)
	}

	if f.outboxRepo.count() != 1 {
		t.Fatalf("expected one outbox event, got %d", f.outboxRepo.count())
	}
	event := f.outboxRepo.events[0]
	if event.EventType != MatchResultEvent || event.JobID != "job-1" {
		t.Fatalf("unexpected outbox event: %+v", event)
	}

	env, err := events.Unwrap(event.Payload)
	if err != nil {
		t.Fatalf("Unwrap payload: %v", err)
	}
	result, err := events.Decode[events.MatchResult](env)
	if err != nil {
		t.Fatalf("Decode payload: %v", err)
	}
	if result.ProductID != 7 || result.VideoID != 9 || result.BestPair.FrameID != res.Match.BestFrameID {
		t.Fatalf("unexpected result event: %+v", result)
	}

	if f.progress.count() != 1 {
		t.Fatalf("expected one progress increment, got %d", f.progress.count())
	}
}

func TestMatchProductVideoIdempotent(t *testing.T) {
	f := newFixture(testAssets(), &fakeCacheRepo{}, testBlobs(), &fakeVerifier{ratio: 1.0})

	first, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, 9))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.Matched || first.AlreadyMatched {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, 9))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Matched || !second.AlreadyMatched {
		t.Fatalf("expected already-matched result, got %+v", second)
	}

	if len(f.matchRepo.created) != 1 {
		t.Fatalf("expected at most one persisted match, got %d", len(f.matchRepo.created))
	}
	if f.outboxRepo.count() != 1 {
		t.Fatalf("result event must not be enqueued twice, got %d", f.outboxRepo.count())
	}
}

func TestMatchProductVideoRejected(t *testing.T) {
	f := newFixture(testAssets(), &fakeCacheRepo{}, testBlobs(), &fakeVerifier{ratio: 0})

	res, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, 9))
	if err != nil {
		t.Fatalf("MatchProductVideo: %v", err)
	}
	if res.Matched {
		t.Fatal("embedding similarity alone must not produce a match")
	}
	if len(f.matchRepo.created) != 0 || f.outboxRepo.count() != 0 {
		t.Fatal("rejection must not persist anything")
	}
	if f.progress.count() != 1 {
		t.Fatalf("rejection must still count toward progress, got %d", f.progress.count())
	}
}

func TestMatchProductVideoPairFailureContinues(t *testing.T) {
	verifier := &fakeVerifier{
		ratio:   1.0,
		failOn:  []byte("blob-f101"),
		failErr: errors.New("corrupt keypoints"),
	}
	f := newFixture(testAssets(), &fakeCacheRepo{}, testBlobs(), verifier)

	res, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, 9))
	if err != nil {
		t.Fatalf("MatchProductVideo: %v", err)
	}
	if !res.Matched {
		t.Fatal("healthy pairs must carry the decision despite a failing pair")
	}
	if res.Match.BestFrameID != 100 {
		t.Fatalf("expected best frame 100, got %d", res.Match.BestFrameID)
	}
}

func TestMatchProductVideoDescriptorFailureDegrades(t *testing.T) {
	blobs := &fakeDescriptorRepo{err: errors.New("storage down")}
	f := newFixture(testAssets(), &fakeCacheRepo{}, blobs, &fakeVerifier{ratio: 1.0})

	res, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, 9))
	if err != nil {
		t.Fatalf("MatchProductVideo: %v", err)
	}
	// Без blob'ов остаётся только embedding-компонента — ниже порогов.
	if res.Matched {
		t.Fatal("expected rejection when keypoint evidence is unavailable")
	}
}

func TestDescriptorCacheSingleLoadPerRef(t *testing.T) {
	repo := &fakeDescriptorRepo{
		blobs: map[string][]byte{"ref-1": {1, 2, 3}},
		delay: 10 * time.Millisecond,
	}
	cache := newDescriptorCache(repo, nopLogger{})

	const n = 20
	results := make([][]byte, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.load(context.Background(), "ref-1")
		}(i)
	}
	wg.Wait()

	if loads := atomic.LoadInt64(&repo.loads); loads != 1 {
		t.Fatalf("concurrent loads of one ref must hit storage once, got %d", loads)
	}
	for i, blob := range results {
		if !bytes.Equal(blob, []byte{1, 2, 3}) {
			t.Fatalf("waiter %d got wrong blob: %v", i, blob)
		}
	}
}

func TestVideoFramesCacheHitSkipsDatabase(t *testing.T) {
	assets := testAssets()
	cache := &fakeCacheRepo{hit: assets.frames}
	f := newFixture(assets, cache, testBlobs(), &fakeVerifier{ratio: 1.0})

	if _, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, 9)); err != nil {
		t.Fatalf("MatchProductVideo: %v", err)
	}
	if f.assetRepo.framesCalls != 0 {
		t.Fatalf("cache hit must not touch the database, got %d reads", f.assetRepo.framesCalls)
	}
}

func TestVideoFramesCacheMissBackfills(t *testing.T) {
	cache := &fakeCacheRepo{setany: make(chan struct{}, 1)}
	f := newFixture(testAssets(), cache, testBlobs(), &fakeVerifier{ratio: 1.0})

	if _, err := f.uc.MatchProductVideo(context.Background(), NewMatchReq("job-1", 7, 9)); err != nil {
		t.Fatalf("MatchProductVideo: %v", err)
	}
	if f.assetRepo.framesCalls != 1 {
		t.Fatalf("cache miss must read the database once, got %d", f.assetRepo.framesCalls)
	}

	select {
	case <-cache.setany:
	case <-time.After(2 * time.Second):
		t.Fatal("expected background cache backfill")
	}
}
