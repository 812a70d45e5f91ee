package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-affect/internal/engine"
	"github.com/miradorstack/mirador-affect/internal/eventlog"
	"github.com/miradorstack/mirador-affect/internal/models"
	"github.com/miradorstack/mirador-affect/internal/utils"
)

// Message field names.
const (
	FieldSurveyLog     = "survey_log"
	FieldPredictionLog = "prediction_log"
	FieldSessionID     = "session_id"
	FieldReportID      = "report_id"
	FieldLimit         = "limit"
	FieldReports       = "reports"
	FieldText          = "text"
	FieldDeleted       = "deleted"
)

// FromProtoCorrelateRequest maps a Correlate request into the domain request. Each log may be
// sent as a JSON array value or as a string holding the log file contents.
func FromProtoCorrelateRequest(req *structpb.Struct) (models.CorrelateRequest, error) {
	if req == nil {
		return models.CorrelateRequest{}, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()

	surveyVal, ok := fields[FieldSurveyLog]
	if !ok {
		return models.CorrelateRequest{}, fmt.Errorf("%s is required", FieldSurveyLog)
	}
	var surveyRecords []eventlog.SurveyRecord
	if err := decodeLog(surveyVal, &surveyRecords); err != nil {
		return models.CorrelateRequest{}, fmt.Errorf("%s: %w", FieldSurveyLog, err)
	}

	var predictionRecords []eventlog.PredictionRecord
	if v, ok := fields[FieldPredictionLog]; ok {
		if err := decodeLog(v, &predictionRecords); err != nil {
			return models.CorrelateRequest{}, fmt.Errorf("%s: %w", FieldPredictionLog, err)
		}
	}

	survey, _ := eventlog.SurveyEvents(surveyRecords)
	predictions, _ := eventlog.Classifications(predictionRecords)
	return models.CorrelateRequest{
		SessionID:   strings.TrimSpace(fields[FieldSessionID].GetStringValue()),
		Survey:      survey,
		Predictions: predictions,
	}, nil
}

func decodeLog(v *structpb.Value, out any) error {
	var data []byte
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil
	case *structpb.Value_StringValue:
		if strings.TrimSpace(kind.StringValue) == "" {
			return nil
		}
		data = []byte(kind.StringValue)
	case *structpb.Value_ListValue:
		raw, err := json.Marshal(kind.ListValue.AsSlice())
		if err != nil {
			return err
		}
		data = raw
	default:
		return fmt.Errorf("expected a JSON array or a string holding one")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return utils.NewAppError("api.decode_log", utils.KindMalformed, "not a JSON array of log records", err)
	}
	return nil
}

// NewCorrelateRequest builds a Correlate request from raw log file contents.
func NewCorrelateRequest(sessionID string, surveyLog, predictionLog []byte) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		FieldSessionID:     sessionID,
		FieldSurveyLog:     string(surveyLog),
		FieldPredictionLog: string(predictionLog),
	})
}

// FromProtoGetReportRequest extracts the report id of a GetReport or DeleteReport request.
func FromProtoGetReportRequest(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	id := strings.TrimSpace(req.GetFields()[FieldReportID].GetStringValue())
	if id == "" {
		return "", fmt.Errorf("%s is required", FieldReportID)
	}
	return id, nil
}

// FromProtoListReportsRequest extracts the optional session filter and page size.
func FromProtoListReportsRequest(req *structpb.Struct) (string, int, error) {
	if req == nil {
		return "", 0, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()
	limit := 0
	if v, ok := fields[FieldLimit]; ok {
		n := v.GetNumberValue()
		if n < 0 || n != float64(int(n)) {
			return "", 0, fmt.Errorf("%s must be a non-negative integer", FieldLimit)
		}
		limit = int(n)
	}
	return strings.TrimSpace(fields[FieldSessionID].GetStringValue()), limit, nil
}

// ToProtoReport converts a report, including its rendered text, into a Struct.
func ToProtoReport(report models.Report) (*structpb.Struct, error) {
	questions := make([]any, 0, len(report.Questions))
	for _, q := range report.Questions {
		answers := make([]any, 0, len(q.Answers))
		for _, a := range q.Answers {
			answers = append(answers, a)
		}
		emotions := make([]any, 0, len(q.Emotions))
		for _, e := range q.Emotions {
			emotions = append(emotions, map[string]any{
				"timestamp":  utils.FormatLogTimestamp(e.Timestamp),
				"label":      e.Label,
				"confidence": e.Confidence,
			})
		}
		intervals := make([]any, 0, len(q.SubIntervals))
		for _, iv := range q.SubIntervals {
			intervals = append(intervals, map[string]any{
				"start":            utils.FormatLogTimestamp(iv.Start),
				"end":              utils.FormatLogTimestamp(iv.End),
				"duration_seconds": utils.DurationSeconds(iv.Start, iv.End),
			})
		}
		entry := map[string]any{
			"question_index":         q.QuestionIndex,
			"question_text":          q.QuestionText,
			"total_duration_seconds": q.TotalDuration.Seconds(),
			"answers":                answers,
			"emotions":               emotions,
			"sub_intervals":          intervals,
		}
		if dominant, ok := engine.DominantEmotion(q); ok {
			entry["dominant_emotion"] = dominant
		}
		questions = append(questions, entry)
	}

	return structpb.NewStruct(map[string]any{
		FieldReportID:             report.ReportID,
		FieldSessionID:            report.SessionID,
		"generated_at":            report.GeneratedAt.UTC().Format(time.RFC3339Nano),
		"dropped_classifications": report.DroppedClassifications,
		"dropped_answers":         report.DroppedAnswers,
		"questions":               questions,
		FieldText:                 engine.RenderText(report),
	})
}

// ToProtoReportList converts archive listings into a Struct.
func ToProtoReportList(summaries []models.ReportSummary) (*structpb.Struct, error) {
	items := make([]any, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, map[string]any{
			FieldReportID:    s.ReportID,
			FieldSessionID:   s.SessionID,
			"generated_at":   s.GeneratedAt.UTC().Format(time.RFC3339Nano),
			"question_count": s.QuestionCount,
		})
	}
	return structpb.NewStruct(map[string]any{FieldReports: items})
}

// ToProtoDeleteReport acknowledges a removed report.
func ToProtoDeleteReport(reportID string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{FieldReportID: reportID, FieldDeleted: true})
}
