package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"printgate/internal/clock"
	"printgate/internal/convert"
	"printgate/internal/model"
	"printgate/internal/pdftest"
	repoMocks "printgate/internal/repository/mocks"
	"printgate/internal/storage"
	storeMocks "printgate/internal/storage/mocks"
	"printgate/internal/watermark"
)

var now = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

const token = "tok-5b1e0c2d"

func testGrant(remaining int) *model.AccessGrant {
	return &model.AccessGrant{
		ID:              "grant-1",
		Token:           token,
		DocumentID:      "doc-1",
		OwnerID:         "user-9",
		RemainingPrints: remaining,
		ExpiresAt:       now.Add(time.Hour),
		WatermarkText:   "ACME INTERNAL",
		Document: &model.Document{
			ID:          "doc-1",
			StoragePath: "documents/doc-1.pdf",
		},
	}
}

type recordingNormalizer struct {
	format model.DocumentFormat
	err    error
}

func (n *recordingNormalizer) Normalize(_ context.Context, format model.DocumentFormat, data []byte) ([]byte, error) {
	n.format = format
	if n.err != nil {
		return nil, n.err
	}
	return data, nil
}

type funcEnhancer func([]byte) []byte

func (f funcEnhancer) Enhance(_ context.Context, pdf []byte) []byte { return f(pdf) }

type recordingStamper struct {
	mu    sync.Mutex
	input []byte
	mark  watermark.Mark
	err   error
}

func (s *recordingStamper) Stamp(_ context.Context, pdf []byte, mark watermark.Mark) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = append([]byte(nil), pdf...)
	s.mark = mark
	if s.err != nil {
		return nil, s.err
	}
	return append(append([]byte(nil), pdf...), []byte("%stamped")...), nil
}

type fixture struct {
	grants  *repoMocks.MockGrantRepository
	logs    *repoMocks.MockPrintLogRepository
	store   *storeMocks.MockStorage
	norm    *recordingNormalizer
	stamper *recordingStamper
	metrics *Metrics
	deps    Dependencies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	f := &fixture{
		grants:  new(repoMocks.MockGrantRepository),
		logs:    new(repoMocks.MockPrintLogRepository),
		store:   new(storeMocks.MockStorage),
		norm:    &recordingNormalizer{},
		stamper: &recordingStamper{},
		metrics: metrics,
	}
	f.deps = Dependencies{
		Grants:           f.grants,
		PrintLogs:        f.logs,
		Store:            f.store,
		Normalizer:       f.norm,
		Stamper:          f.stamper,
		Clock:            clock.Fixed(now),
		Metrics:          metrics,
		DefaultWatermark: "CONFIDENTIAL",
		MaxObjectBytes:   1 << 20,
	}
	return f
}

func (f *fixture) service() PrintService { return NewPrintService(f.deps) }

func (f *fixture) serveObject(key string, data []byte) {
	f.store.On("Get", mock.Anything, key).Return(func(context.Context, string) io.ReadCloser {
		return io.NopCloser(bytes.NewReader(data))
	}, storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil)
}

func request() PrintRequest {
	return PrintRequest{Token: token, ClientIP: "10.1.2.3", UserAgent: "test-agent", RequestID: "req-1"}
}

func TestPrintService_Print_Success(t *testing.T) {
	f := newFixture(t)
	src := pdftest.Build()
	f.grants.On("FindByToken", mock.Anything, token).Return(testGrant(5), nil)
	f.grants.On("ConsumePrint", mock.Anything, "grant-1").Return(4, nil)
	f.serveObject("documents/doc-1.pdf", src)
	f.logs.On("Create", mock.Anything, mock.MatchedBy(func(e *model.PrintLogEntry) bool {
		return e.ID != "" && e.DocumentID == "doc-1" && e.OwnerID == "user-9" && e.Token == token &&
			e.ClientIP == "10.1.2.3" && e.UserAgent == "test-agent" && e.PrintedAt.Equal(now)
	})).Return(nil)

	res, err := f.service().Print(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, 4, res.RemainingPrints)
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.True(t, bytes.HasSuffix(res.PDF, []byte("%stamped")))
	assert.Equal(t, model.FormatPDF, f.norm.format)
	assert.Equal(t, watermark.Mark{Text: "ACME INTERNAL", Token: token, Remaining: 4, Timestamp: now}, f.stamper.mark)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.requests.WithLabelValues("success")))

	f.grants.AssertNumberOfCalls(t, "ConsumePrint", 1)
	f.logs.AssertExpectations(t)
}

func TestPrintService_Print_DefaultWatermarkAndSVG(t *testing.T) {
	f := newFixture(t)
	g := testGrant(2)
	g.WatermarkText = ""
	g.Document.StoragePath = "documents/doc-1.SVG"
	f.grants.On("FindByToken", mock.Anything, token).Return(g, nil)
	f.grants.On("ConsumePrint", mock.Anything, "grant-1").Return(1, nil)
	f.serveObject("documents/doc-1.SVG", []byte(`<svg width="10" height="10"/>`))
	f.logs.On("Create", mock.Anything, mock.Anything).Return(nil)

	_, err := f.service().Print(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "CONFIDENTIAL", f.stamper.mark.Text)
	assert.Equal(t, model.FormatSVG, f.norm.format)
}

func TestPrintService_Print_RejectedBeforeQuota(t *testing.T) {
	expired := testGrant(3)
	expired.ExpiresAt = now
	noDoc := testGrant(3)
	noDoc.Document = nil

	tests := []struct {
		name     string
		token    string
		setup    func(f *fixture)
		wantErr  error
		wantKind Kind
	}{
		{
			name:     "empty token",
			token:    "",
			setup:    func(f *fixture) {},
			wantErr:  ErrTokenRequired,
			wantKind: KindInput,
		},
		{
			name:  "unknown token",
			token: token,
			setup: func(f *fixture) {
				f.grants.On("FindByToken", mock.Anything, token).Return(nil, sql.ErrNoRows)
			},
			wantErr:  ErrSessionInvalid,
			wantKind: KindAuthz,
		},
		{
			name:  "expired at exactly now",
			token: token,
			setup: func(f *fixture) {
				f.grants.On("FindByToken", mock.Anything, token).Return(expired, nil)
			},
			wantErr:  ErrSessionExpired,
			wantKind: KindAuthz,
		},
		{
			name:  "document row missing",
			token: token,
			setup: func(f *fixture) {
				f.grants.On("FindByToken", mock.Anything, token).Return(noDoc, nil)
			},
			wantErr:  ErrDocumentNotFound,
			wantKind: KindNotFound,
		},
		{
			name:  "lookup error",
			token: token,
			setup: func(f *fixture) {
				f.grants.On("FindByToken", mock.Anything, token).Return(nil, errors.New("conn reset"))
			},
			wantErr:  ErrLookupFailed,
			wantKind: KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			req := request()
			req.Token = tt.token

			res, err := f.service().Print(context.Background(), req)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, KindOf(err))

			f.grants.AssertNotCalled(t, "ConsumePrint", mock.Anything, mock.Anything)
			f.store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
			f.logs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestPrintService_Print_QuotaExhausted(t *testing.T) {
	f := newFixture(t)
	f.grants.On("FindByToken", mock.Anything, token).Return(testGrant(0), nil)
	f.grants.On("ConsumePrint", mock.Anything, "grant-1").Return(0, sql.ErrNoRows)

	_, err := f.service().Print(context.Background(), request())
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, KindAuthz, KindOf(err))
	f.store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.stageFailures.WithLabelValues(StageConsume, "fatal")))
}

func TestPrintService_Print_LedgerCommitError(t *testing.T) {
	f := newFixture(t)
	f.grants.On("FindByToken", mock.Anything, token).Return(testGrant(3), nil)
	f.grants.On("ConsumePrint", mock.Anything, "grant-1").Return(0, errors.New("serialization failure"))

	_, err := f.service().Print(context.Background(), request())
	assert.ErrorIs(t, err, ErrLedgerCommit)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestPrintService_Print_FailuresAfterDecrementKeepQuotaConsumed(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		wantErr  error
		wantKind Kind
	}{
		{
			name: "object missing",
			setup: func(f *fixture) {
				f.store.On("Get", mock.Anything, "documents/doc-1.pdf").
					Return(nil, storage.ObjectInfo{}, storage.ErrObjectNotFound)
			},
			wantErr:  ErrDocumentNotFound,
			wantKind: KindNotFound,
		},
		{
			name: "storage unreachable",
			setup: func(f *fixture) {
				f.store.On("Get", mock.Anything, "documents/doc-1.pdf").
					Return(nil, storage.ObjectInfo{}, errors.New("dial tcp: refused"))
			},
			wantErr:  ErrDocumentUnavailable,
			wantKind: KindDependency,
		},
		{
			name: "object too large",
			setup: func(f *fixture) {
				f.deps.MaxObjectBytes = 8
				f.serveObject("documents/doc-1.pdf", pdftest.Build())
			},
			wantErr:  ErrDocumentUnavailable,
			wantKind: KindDependency,
		},
		{
			name: "conversion failed",
			setup: func(f *fixture) {
				f.serveObject("documents/doc-1.pdf", pdftest.Build())
				f.norm.err = convert.ErrConversionFailed
			},
			wantErr:  ErrNormalizationFailed,
			wantKind: KindDependency,
		},
		{
			name: "stamp failed",
			setup: func(f *fixture) {
				f.serveObject("documents/doc-1.pdf", pdftest.Build())
				f.stamper.err = errors.New("malformed xref")
			},
			wantErr:  ErrWatermarkFailed,
			wantKind: KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.grants.On("FindByToken", mock.Anything, token).Return(testGrant(3), nil)
			f.grants.On("ConsumePrint", mock.Anything, "grant-1").Return(2, nil)
			tt.setup(f)

			_, err := f.service().Print(context.Background(), request())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, KindOf(err))

			f.grants.AssertNumberOfCalls(t, "ConsumePrint", 1)
			f.logs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

// stallingReader blocks every Read until ctx ends.
type stallingReader struct{ ctx context.Context }

func (r stallingReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func printWithin(t *testing.T, svc PrintService, limit time.Duration) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Print(context.Background(), request())
		errCh <- err
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(limit):
		t.Fatal("print did not return before the deadline")
		return nil
	}
}

func TestPrintService_Print_StorageTimeout(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name: "get blocks",
			setup: func(f *fixture) {
				f.store.On("Get", mock.Anything, "documents/doc-1.pdf").
					Run(func(args mock.Arguments) {
						<-args.Get(0).(context.Context).Done()
					}).
					Return(nil, storage.ObjectInfo{}, context.DeadlineExceeded)
			},
		},
		{
			name: "body read blocks",
			setup: func(f *fixture) {
				f.store.On("Get", mock.Anything, "documents/doc-1.pdf").
					Return(func(ctx context.Context, _ string) io.ReadCloser {
						return io.NopCloser(stallingReader{ctx: ctx})
					}, storage.ObjectInfo{Key: "documents/doc-1.pdf"}, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.deps.StorageTimeout = 50 * time.Millisecond
			f.grants.On("FindByToken", mock.Anything, token).Return(testGrant(3), nil)
			f.grants.On("ConsumePrint", mock.Anything, "grant-1").Return(2, nil)
			tt.setup(f)

			err := printWithin(t, f.service(), 2*time.Second)
			assert.ErrorIs(t, err, ErrDocumentUnavailable)
			assert.Contains(t, err.Error(), context.DeadlineExceeded.Error())
			assert.Equal(t, KindDependency, KindOf(err))
			f.grants.AssertNumberOfCalls(t, "ConsumePrint", 1)
		})
	}
}

func TestPrintService_Print_LedgerTimeout(t *testing.T) {
	t.Run("lookup", func(t *testing.T) {
		f := newFixture(t)
		f.deps.LedgerTimeout = 50 * time.Millisecond
		f.grants.On("FindByToken", mock.Anything, token).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		err := printWithin(t, f.service(), 2*time.Second)
		assert.ErrorIs(t, err, ErrLookupFailed)
		assert.Equal(t, KindInternal, KindOf(err))
		f.grants.AssertNotCalled(t, "ConsumePrint", mock.Anything, mock.Anything)
	})

	t.Run("decrement", func(t *testing.T) {
		f := newFixture(t)
		f.deps.LedgerTimeout = 50 * time.Millisecond
		f.grants.On("FindByToken", mock.Anything, token).Return(testGrant(3), nil)
		f.grants.On("ConsumePrint", mock.Anything, "grant-1").
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(0, context.DeadlineExceeded)

		err := printWithin(t, f.service(), 2*time.Second)
		assert.ErrorIs(t, err, ErrLedgerCommit)
		assert.Equal(t, KindInternal, KindOf(err))
		f.store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})
}

func TestPrintService_Print_AuditFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	f.grants.On("FindByToken", mock.Anything, token).Return(testGrant(3), nil)
	f.grants.On("ConsumePrint", mock.Anything, "grant-1").Return(2, nil)
	f.serveObject("documents/doc-1.pdf", pdftest.Build())
	f.logs.On("Create", mock.Anything, mock.Anything).Return(errors.New("relation print_logs does not exist"))

	res, err := f.service().Print(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemainingPrints)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.stageFailures.WithLabelValues(StageAudit, "best_effort")))
}

func TestPrintService_Print_EnhancementIsInertOnFailure(t *testing.T) {
	run := func(enh Enhancer) []byte {
		f := newFixture(t)
		f.deps.Enhancer = enh
		f.grants.On("FindByToken", mock.Anything, token).Return(testGrant(3), nil)
		f.grants.On("ConsumePrint", mock.Anything, "grant-1").Return(2, nil)
		f.serveObject("documents/doc-1.pdf", pdftest.Build(pdftest.Letter))
		f.logs.On("Create", mock.Anything, mock.Anything).Return(nil)

		_, err := f.service().Print(context.Background(), request())
		require.NoError(t, err)
		return f.stamper.input
	}

	disabled := run(nil)
	failing := run(funcEnhancer(func(in []byte) []byte { return in }))
	empty := run(funcEnhancer(func([]byte) []byte { return nil }))
	assert.Equal(t, disabled, failing)
	assert.Equal(t, disabled, empty)

	enhanced := run(funcEnhancer(func([]byte) []byte { return []byte("%PDF-1.7 enhanced") }))
	assert.Equal(t, []byte("%PDF-1.7 enhanced"), enhanced)
}

// memoryGrants is a GrantRepository with the same conditional decrement
// semantics as the SQL implementation.
type memoryGrants struct {
	mu    sync.Mutex
	grant model.AccessGrant
}

func (m *memoryGrants) FindByToken(_ context.Context, tok string) (*model.AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok != m.grant.Token {
		return nil, sql.ErrNoRows
	}
	g := m.grant
	return &g, nil
}

func (m *memoryGrants) ConsumePrint(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.grant.ID || m.grant.RemainingPrints <= 0 {
		return 0, sql.ErrNoRows
	}
	m.grant.RemainingPrints--
	return m.grant.RemainingPrints, nil
}

type memoryStore struct{ data []byte }

func (s memoryStore) Get(context.Context, string) (io.ReadCloser, storage.ObjectInfo, error) {
	return io.NopCloser(bytes.NewReader(s.data)), storage.ObjectInfo{}, nil
}

func TestPrintService_Print_ConcurrentLastPrint(t *testing.T) {
	repo := &memoryGrants{grant: *testGrant(1)}
	svc := NewPrintService(Dependencies{
		Grants:     repo,
		Store:      memoryStore{data: pdftest.Build()},
		Normalizer: &recordingNormalizer{},
		Stamper:    &recordingStamper{},
		Clock:      clock.Fixed(now),
	})

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		exhausted int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := svc.Print(context.Background(), request())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
				assert.Equal(t, 0, res.RemainingPrints)
			case errors.Is(err, ErrQuotaExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, exhausted)
	assert.Equal(t, 0, repo.grant.RemainingPrints)
}

func TestPrintService_Print_StampsTokenWithRealCompositor(t *testing.T) {
	repo := &memoryGrants{grant: *testGrant(3)}
	svc := NewPrintService(Dependencies{
		Grants:     repo,
		Store:      memoryStore{data: pdftest.Build(pdftest.A4, pdftest.Letter)},
		Normalizer: convert.NewNormalizer(nil, nil),
		Stamper:    watermark.NewCompositor(nil),
		Clock:      clock.Fixed(now),
	})

	res, err := svc.Print(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemainingPrints)
	assert.True(t, bytes.HasPrefix(res.PDF, []byte("%PDF-")))
	assert.True(t, pdftest.ContainsText(res.PDF, "Token: "+token))
	assert.True(t, pdftest.ContainsText(res.PDF, "Remaining prints: 2"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	err := newError(KindDependency, StageFetch, ErrDocumentUnavailable, errors.New("timeout"))
	assert.Equal(t, KindDependency, KindOf(err))
	assert.EqualError(t, err, "fetch: document unavailable: timeout")
	assert.ErrorIs(t, err, ErrDocumentUnavailable)
}
