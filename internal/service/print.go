package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"printgate/internal/clock"
	"printgate/internal/logger"
	"printgate/internal/model"
	"printgate/internal/repository"
	"printgate/internal/storage"
	"printgate/internal/watermark"
)

const tracerName = "printgate/internal/service"

// Stage names, used in logs, metrics and Error.Stage.
const (
	StageValidate  = "validate"
	StageConsume   = "consume"
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageEnhance   = "enhance"
	StageWatermark = "watermark"
	StageAudit     = "audit"
)

// PrintRequest is one attempt to obtain a stamped copy of a document.
type PrintRequest struct {
	Token     string
	ClientIP  string
	UserAgent string
	RequestID string
}

// PrintResult is the deliverable: the stamped PDF and the quota left after this print.
type PrintResult struct {
	PDF             []byte
	RemainingPrints int
	DocumentID      string
}

// PrintService authorizes a print against a grant and renders the stamped copy.
type PrintService interface {
	// Print runs the full pipeline. Failures are *Error values carrying a Kind.
	// A print quota that was consumed stays consumed even when a later stage fails.
	Print(ctx context.Context, req PrintRequest) (*PrintResult, error)
}

// Normalizer turns a stored document into PDF bytes.
type Normalizer interface {
	Normalize(ctx context.Context, format model.DocumentFormat, data []byte) ([]byte, error)
}

// Enhancer optionally improves a PDF. It must return its input on failure.
type Enhancer interface {
	Enhance(ctx context.Context, pdf []byte) []byte
}

// Stamper applies the per-copy watermark.
type Stamper interface {
	Stamp(ctx context.Context, pdf []byte, mark watermark.Mark) ([]byte, error)
}

// Dependencies wires the pipeline's collaborators.
type Dependencies struct {
	Grants     repository.GrantRepository
	PrintLogs  repository.PrintLogRepository
	Store      storage.Storage
	Normalizer Normalizer
	Enhancer   Enhancer
	Stamper    Stamper
	Clock      clock.Clock
	Metrics    *Metrics
	Logger     *zap.Logger

	// DefaultWatermark is used when a grant carries no watermark text.
	DefaultWatermark string
	// MaxObjectBytes caps the size of a fetched source document; 0 means no cap.
	MaxObjectBytes int64
	// StorageTimeout bounds the object fetch including the body read; 0 means none.
	StorageTimeout time.Duration
	// LedgerTimeout bounds each grant lookup and quota update; 0 means none.
	LedgerTimeout time.Duration
}

type printService struct {
	Dependencies
	stages []stage
}

// NewPrintService constructs the pipeline. Clock and Logger default to the
// system clock and a no-op logger.
func NewPrintService(d Dependencies) PrintService {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	s := &printService{Dependencies: d}
	s.stages = []stage{
		{name: StageValidate, fatal: true, run: s.validate},
		{name: StageConsume, fatal: true, run: s.consume},
		{name: StageFetch, fatal: true, run: s.fetch},
		{name: StageNormalize, fatal: true, run: s.normalize},
		{name: StageEnhance, fatal: false, run: s.enhance},
		{name: StageWatermark, fatal: true, run: s.watermark},
		{name: StageAudit, fatal: false, run: s.audit},
	}
	return s
}

// stage is one step of the pipeline. Fatal stages abort the request on error;
// best-effort stages are logged and skipped.
type stage struct {
	name  string
	fatal bool
	run   func(ctx context.Context, job *printJob) error
}

func (st stage) policy() string {
	if st.fatal {
		return "fatal"
	}
	return "best_effort"
}

// printJob carries one request's state between stages.
type printJob struct {
	req       PrintRequest
	now       time.Time
	grant     *model.AccessGrant
	remaining int
	source    []byte
	pdf       []byte
	log       *zap.Logger
}

func (s *printService) Print(ctx context.Context, req PrintRequest) (*PrintResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "print",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("print.request_id", req.RequestID)),
	)
	defer span.End()

	job := &printJob{
		req: req,
		now: s.Clock.Now(),
		log: s.Logger.With(
			zap.String("request_id", req.RequestID),
			zap.String("token", logger.TokenPrefix(req.Token)),
		),
	}

	for _, st := range s.stages {
		if err := s.runStage(ctx, st, job); err != nil {
			if st.fatal {
				span.SetStatus(codes.Error, err.Error())
				s.countRequest(string(KindOf(err)))
				return nil, err
			}
		}
	}

	s.countRequest("success")
	job.log.Info("print delivered",
		zap.String("grant_id", job.grant.ID),
		zap.String("document_id", job.grant.DocumentID),
		zap.Int("remaining_prints", job.remaining),
		zap.Int("bytes", len(job.pdf)),
	)
	return &PrintResult{
		PDF:             job.pdf,
		RemainingPrints: job.remaining,
		DocumentID:      job.grant.DocumentID,
	}, nil
}

func (s *printService) runStage(ctx context.Context, st stage, job *printJob) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "print."+st.name,
		trace.WithAttributes(attribute.String("print.stage", st.name)),
	)
	defer span.End()

	start := time.Now()
	err := st.run(ctx, job)
	if s.Metrics != nil {
		s.Metrics.stageDuration.WithLabelValues(st.name).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool("print.fatal", st.fatal))
	if s.Metrics != nil {
		s.Metrics.stageFailures.WithLabelValues(st.name, st.policy()).Inc()
	}

	fields := []zap.Field{zap.String("stage", st.name), zap.Error(err)}
	if job.grant != nil {
		fields = append(fields,
			zap.String("grant_id", job.grant.ID),
			zap.String("document_id", job.grant.DocumentID),
		)
	}
	switch {
	case !st.fatal:
		job.log.Warn("best-effort stage failed", fields...)
	case KindOf(err) == KindInput || KindOf(err) == KindAuthz || KindOf(err) == KindNotFound:
		job.log.Info("print rejected", fields...)
	default:
		job.log.Error("print failed", fields...)
	}
	return err
}

func (s *printService) countRequest(outcome string) {
	if s.Metrics != nil {
		s.Metrics.requests.WithLabelValues(outcome).Inc()
	}
}

// validate resolves the token to a live grant and its document. It never
// touches the quota.
func (s *printService) validate(ctx context.Context, job *printJob) error {
	if job.req.Token == "" {
		return newError(KindInput, StageValidate, ErrTokenRequired, nil)
	}

	ctx, cancel := withTimeout(ctx, s.LedgerTimeout)
	defer cancel()
	grant, err := s.Grants.FindByToken(ctx, job.req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(KindAuthz, StageValidate, ErrSessionInvalid, nil)
		}
		return newError(KindInternal, StageValidate, ErrLookupFailed, err)
	}
	if grant.Expired(job.now) {
		return newError(KindAuthz, StageValidate, ErrSessionExpired, nil)
	}
	if grant.Document == nil {
		return newError(KindNotFound, StageValidate, ErrDocumentNotFound, nil)
	}
	job.grant = grant
	return nil
}

// consume takes one print from the grant's quota in a single conditional update.
func (s *printService) consume(ctx context.Context, job *printJob) error {
	ctx, cancel := withTimeout(ctx, s.LedgerTimeout)
	defer cancel()
	remaining, err := s.Grants.ConsumePrint(ctx, job.grant.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(KindAuthz, StageConsume, ErrQuotaExhausted, nil)
		}
		return newError(KindInternal, StageConsume, ErrLedgerCommit, err)
	}
	job.remaining = remaining
	return nil
}

func (s *printService) fetch(ctx context.Context, job *printJob) error {
	ctx, cancel := withTimeout(ctx, s.StorageTimeout)
	defer cancel()

	rc, _, err := s.Store.Get(ctx, job.grant.Document.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return newError(KindNotFound, StageFetch, ErrDocumentNotFound, err)
		}
		return newError(KindDependency, StageFetch, ErrDocumentUnavailable, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if s.MaxObjectBytes > 0 {
		r = io.LimitReader(rc, s.MaxObjectBytes+1)
	}
	data, err := readAll(ctx, r)
	if err != nil {
		return newError(KindDependency, StageFetch, ErrDocumentUnavailable, err)
	}
	if s.MaxObjectBytes > 0 && int64(len(data)) > s.MaxObjectBytes {
		return newError(KindDependency, StageFetch, ErrDocumentUnavailable,
			fmt.Errorf("object exceeds %d bytes", s.MaxObjectBytes))
	}
	job.source = data
	return nil
}

func (s *printService) normalize(ctx context.Context, job *printJob) error {
	pdf, err := s.Normalizer.Normalize(ctx, job.grant.Document.Format(), job.source)
	if err != nil {
		return newError(KindDependency, StageNormalize, ErrNormalizationFailed, err)
	}
	job.pdf = pdf
	return nil
}

func (s *printService) enhance(ctx context.Context, job *printJob) error {
	if s.Enhancer == nil {
		return nil
	}
	if out := s.Enhancer.Enhance(ctx, job.pdf); len(out) > 0 {
		job.pdf = out
	}
	return nil
}

func (s *printService) watermark(ctx context.Context, job *printJob) error {
	text := job.grant.WatermarkText
	if text == "" {
		text = s.DefaultWatermark
	}
	stamped, err := s.Stamper.Stamp(ctx, job.pdf, watermark.Mark{
		Text:      text,
		Token:     job.req.Token,
		Remaining: job.remaining,
		Timestamp: job.now,
	})
	if err != nil {
		return newError(KindInternal, StageWatermark, ErrWatermarkFailed, err)
	}
	job.pdf = stamped
	return nil
}

func (s *printService) audit(ctx context.Context, job *printJob) error {
	if s.PrintLogs == nil {
		return nil
	}
	entry := &model.PrintLogEntry{
		ID:         uuid.NewString(),
		DocumentID: job.grant.DocumentID,
		OwnerID:    job.grant.OwnerID,
		Token:      job.req.Token,
		ClientIP:   job.req.ClientIP,
		UserAgent:  job.req.UserAgent,
		PrintedAt:  job.now,
	}
	if err := s.PrintLogs.Create(ctx, entry); err != nil {
		return newError(KindSoftDependency, StageAudit, ErrAuditFailed, err)
	}
	return nil
}

// withTimeout derives a context bounded by d; d <= 0 leaves ctx as is.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// readAll reads r to the end, giving up once ctx is done. Storage clients do
// not all stop a body read when the request context ends; the abandoned read
// is released when the caller closes the body.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		done <- result{data, err}
	}()
	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("read object: %w", ctx.Err())
	}
}
