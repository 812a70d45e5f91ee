package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-affect/internal/api"
	"github.com/miradorstack/mirador-affect/internal/engine"
	"github.com/miradorstack/mirador-affect/internal/eventlog"
	"github.com/miradorstack/mirador-affect/internal/metrics"
	"github.com/miradorstack/mirador-affect/internal/models"
	"github.com/miradorstack/mirador-affect/internal/repo"
	"github.com/miradorstack/mirador-affect/internal/utils"
)

// ReportArchive defines the storage operations used for generated reports.
type ReportArchive interface {
	StoreReport(ctx context.Context, report models.Report) error
	LoadReport(ctx context.Context, reportID string) (models.Report, error)
	ListReports(ctx context.Context, sessionID string, limit int) ([]models.ReportSummary, error)
	DeleteReport(ctx context.Context, reportID string) error
}

// ReportService correlates finished sessions and implements the gRPC ReportService.
type ReportService struct {
	logger     *slog.Logger
	correlator *engine.Correlator
	questions  engine.QuestionLookup
	archive    ReportArchive
	latencies  *utils.LatencyTracker
	now        func() time.Time
}

var _ api.ReportServiceServer = (*ReportService)(nil)

// NewReportService constructs the report facade. A nil correlator or question lookup falls back
// to the defaults; a nil archive disables persistence.
func NewReportService(logger *slog.Logger, correlator *engine.Correlator, questions engine.QuestionLookup, archive ReportArchive) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	if correlator == nil {
		correlator = engine.NewCorrelator(logger)
	}
	if questions == nil {
		questions = engine.DefaultQuestionBank()
	}
	return &ReportService{
		logger:     logger,
		correlator: correlator,
		questions:  questions,
		archive:    archive,
		latencies:  utils.NewLatencyTracker(1024),
		now:        time.Now,
	}
}

// Generate correlates both logs of one session. Archive failures are logged and do not fail
// the report.
func (s *ReportService) Generate(ctx context.Context, req models.CorrelateRequest) (models.Report, error) {
	if err := ctx.Err(); err != nil {
		metrics.ObserveCorrelation(0, metrics.OutcomeError)
		return models.Report{}, err
	}

	start := time.Now()
	report := s.correlator.Correlate(req.Survey, req.Predictions, s.questions)
	duration := time.Since(start)

	report.ReportID = uuid.NewString()
	report.SessionID = req.SessionID
	report.GeneratedAt = s.now().UTC()

	s.latencies.Observe(duration)
	metrics.ObserveCorrelation(duration, metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("correlation latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	s.logger.Debug("session correlated",
		slog.String("report_id", report.ReportID),
		slog.String("session_id", report.SessionID),
		slog.Int("questions", len(report.Questions)),
		slog.Int("dropped_classifications", report.DroppedClassifications))

	if s.archive != nil {
		if err := s.archive.StoreReport(ctx, report); err != nil {
			s.logger.Warn("report not archived", slog.String("report_id", report.ReportID), slog.Any("error", err))
		}
	}
	return report, nil
}

// CorrelateFiles loads two closed session logs from disk and correlates them. A log that is not a
// JSON array is treated as empty. An empty sessionID is derived from the survey file name.
func (s *ReportService) CorrelateFiles(ctx context.Context, surveyPath, predictionPath, sessionID string) (models.Report, error) {
	surveyRecords, malformed, err := eventlog.Load[eventlog.SurveyRecord](surveyPath)
	if err != nil {
		return models.Report{}, utils.NewAppError("services.correlate_files", utils.KindUnavailable, surveyPath, err)
	}
	if malformed {
		s.logger.Warn("survey log is malformed, treating as empty", slog.String("path", surveyPath))
	}

	var predictionRecords []eventlog.PredictionRecord
	if predictionPath != "" {
		predictionRecords, malformed, err = eventlog.Load[eventlog.PredictionRecord](predictionPath)
		if err != nil {
			return models.Report{}, utils.NewAppError("services.correlate_files", utils.KindUnavailable, predictionPath, err)
		}
		if malformed {
			s.logger.Warn("prediction log is malformed, treating as empty", slog.String("path", predictionPath))
		}
	}

	survey, skippedSurvey := eventlog.SurveyEvents(surveyRecords)
	predictions, skippedPredictions := eventlog.Classifications(predictionRecords)
	if skippedSurvey > 0 || skippedPredictions > 0 {
		s.logger.Warn("skipped log entries with unreadable timestamps",
			slog.Int("survey", skippedSurvey),
			slog.Int("predictions", skippedPredictions))
	}

	if sessionID == "" {
		sessionID, _ = eventlog.SessionIDFromPath(surveyPath)
	}
	return s.Generate(ctx, models.CorrelateRequest{
		SessionID:   sessionID,
		Survey:      survey,
		Predictions: predictions,
	})
}

// Correlate handles the gRPC Correlate call.
func (s *ReportService) Correlate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	domainReq, err := api.FromProtoCorrelateRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	report, err := s.Generate(ctx, domainReq)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	out, err := api.ToProtoReport(report)
	if err != nil {
		s.logger.Error("encode report failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode report")
	}
	return out, nil
}

// GetReport returns an archived report.
func (s *ReportService) GetReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.archive == nil {
		return nil, status.Error(codes.FailedPrecondition, "report archive not configured")
	}
	id, err := api.FromProtoGetReportRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	report, err := s.archive.LoadReport(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrReportNotFound) {
			return nil, status.Error(codes.NotFound, fmt.Sprintf("report %s not found", id))
		}
		s.logger.Error("load report failed", slog.String("report_id", id), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to load report")
	}
	out, err := api.ToProtoReport(report)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode report")
	}
	return out, nil
}

// ListReports returns archived report summaries, newest first.
func (s *ReportService) ListReports(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.archive == nil {
		return nil, status.Error(codes.FailedPrecondition, "report archive not configured")
	}
	sessionID, limit, err := api.FromProtoListReportsRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	summaries, err := s.archive.ListReports(ctx, sessionID, limit)
	if err != nil {
		s.logger.Error("list reports failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list reports")
	}
	out, err := api.ToProtoReportList(summaries)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode report list")
	}
	return out, nil
}

// LatencyP95 returns the current p95 correlation latency.
func (s *ReportService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// DeleteReport removes an archived report.
func (s *ReportService) DeleteReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.archive == nil {
		return nil, status.Error(codes.FailedPrecondition, "report archive not configured")
	}
	id, err := api.FromProtoGetReportRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := s.archive.DeleteReport(ctx, id); err != nil {
		if errors.Is(err, repo.ErrReportNotFound) {
			return nil, status.Error(codes.NotFound, fmt.Sprintf("report %s not found", id))
		}
		s.logger.Error("delete report failed", slog.String("report_id", id), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to delete report")
	}
	s.logger.Info("report deleted", slog.String("report_id", id))
	return api.ToProtoDeleteReport(id)
}
