package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-affect/internal/models"
)

const testSession = "20250603_080110"

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := current
		current = current.Add(250 * time.Millisecond)
		return t
	}
}

func TestOpenCreatesParseableEmptyLog(t *testing.T) {
	dir := t.TempDir()
	log, err := Open[SurveyRecord](dir, KindSurvey, testSession, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "survey_log_20250603_080110.json"), log.Path())
	records, malformed, err := Load[SurveyRecord](log.Path())
	require.NoError(t, err)
	assert.False(t, malformed)
	assert.Empty(t, records)
}

func TestAppendIsDurableAfterEveryCall(t *testing.T) {
	dir := t.TempDir()
	log, err := Open[PredictionRecord](dir, KindPrediction, testSession, nil)
	require.NoError(t, err)

	labels := []string{"joy", "neutral", "sadness"}
	for i, label := range labels {
		require.NoError(t, log.Append(PredictionRecord{Timestamp: fmt.Sprintf("2025-06-03 08:01:1%d.000", i), PredictedLabel: label}))

		onDisk, malformed, err := Load[PredictionRecord](log.Path())
		require.NoError(t, err)
		require.False(t, malformed)
		require.Len(t, onDisk, i+1)
		for j := 0; j <= i; j++ {
			assert.Equal(t, labels[j], onDisk[j].PredictedLabel)
		}
	}
}

func TestReopenAfterInterruptedSessionKeepsFlushedEvents(t *testing.T) {
	dir := t.TempDir()
	first, err := Open[SurveyRecord](dir, KindSurvey, testSession, nil)
	require.NoError(t, err)
	require.NoError(t, first.Append(SurveyRecord{Timestamp: "2025-06-03 08:01:10.425", ActionType: "passive", EventType: "app_init"}))
	require.NoError(t, first.Append(SurveyRecord{Timestamp: "2025-06-03 08:01:10.490", ActionType: "passive", EventType: "question_displayed"}))

	// no Close: the process is gone after the last durable append
	second, err := Open[SurveyRecord](dir, KindSurvey, testSession, nil)
	require.NoError(t, err)
	records := second.ReadAll()
	require.Len(t, records, 2)
	assert.Equal(t, "app_init", records[0].EventType)
	assert.Equal(t, "question_displayed", records[1].EventType)
}

func TestMalformedLogStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName(KindSurvey, testSession))
	require.NoError(t, os.WriteFile(path, []byte(`[{"timestamp": "2025-06-03`), 0o644))

	records, malformed, err := Load[SurveyRecord](path)
	require.NoError(t, err)
	assert.True(t, malformed)
	assert.Empty(t, records)

	log, err := Open[SurveyRecord](dir, KindSurvey, testSession, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, log.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

// procDir is a directory that exists but rejects new files even for root.
func procDir(t *testing.T) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("needs /proc")
	}
	return "/proc/self"
}

func TestOpenFallsBackWhenDirectoryIsNotWritable(t *testing.T) {
	readOnly := procDir(t)
	t.Chdir(t.TempDir())

	log, err := Open[SurveyRecord](readOnly, KindSurvey, testSession, nil)
	require.NoError(t, err)
	assert.Equal(t, FileName(KindSurvey, testSession), log.Path())

	require.NoError(t, log.Append(SurveyRecord{Timestamp: "2025-06-03 08:01:10.425", EventType: "app_init"}))
	onDisk, malformed, err := Load[SurveyRecord](log.Path())
	require.NoError(t, err)
	assert.False(t, malformed)
	assert.Len(t, onDisk, 1)
}

func TestOpenFallsBackWhenDirectoryCannotBeCreated(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o644))
	t.Chdir(t.TempDir())

	log, err := Open[PredictionRecord](filepath.Join(parent, "logs"), KindPrediction, testSession, nil)
	require.NoError(t, err)
	assert.Equal(t, FileName(KindPrediction, testSession), log.Path())
	_, err = os.Stat(log.Path())
	assert.NoError(t, err)
}

func TestOpenKeepsEventsInMemoryWhenNothingIsWritable(t *testing.T) {
	readOnly := procDir(t)
	t.Chdir(readOnly)

	log, err := Open[SurveyRecord](readOnly, KindSurvey, testSession, nil)
	require.NoError(t, err)

	err = log.Append(SurveyRecord{Timestamp: "2025-06-03 08:01:10.425", EventType: "app_init"})
	assert.Error(t, err)
	records := log.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, "app_init", records[0].EventType)
	assert.Error(t, log.Close())
}

func TestFlushPersistsEventsKeptAfterFailedAppend(t *testing.T) {
	log, err := Open[SurveyRecord](t.TempDir(), KindSurvey, testSession, nil)
	require.NoError(t, err)

	// a directory in place of the log file makes the rename fail
	require.NoError(t, os.Remove(log.Path()))
	require.NoError(t, os.MkdirAll(filepath.Join(log.Path(), "blocker"), 0o755))

	assert.Error(t, log.Append(SurveyRecord{Timestamp: "2025-06-03 08:01:10.425", EventType: "app_init"}))
	assert.Equal(t, 1, log.Len())

	require.NoError(t, os.RemoveAll(log.Path()))
	require.NoError(t, log.Flush())

	onDisk, malformed, err := Load[SurveyRecord](log.Path())
	require.NoError(t, err)
	assert.False(t, malformed)
	require.Len(t, onDisk, 1)
	assert.Equal(t, "app_init", onDisk[0].EventType)
}

func TestNonArrayContentIsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"timestamp": "x"}`), 0o644))

	records, malformed, err := Load[SurveyRecord](path)
	require.NoError(t, err)
	assert.True(t, malformed)
	assert.Empty(t, records)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	records, malformed, err := Load[PredictionRecord](filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.False(t, malformed)
	assert.Empty(t, records)
}

func TestAppendAfterCloseFails(t *testing.T) {
	log, err := Open[SurveyRecord](t.TempDir(), KindSurvey, testSession, nil)
	require.NoError(t, err)
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	assert.ErrorIs(t, log.Append(SurveyRecord{EventType: "late"}), ErrClosed)
}

func TestOpenRequiresSessionID(t *testing.T) {
	_, err := Open[SurveyRecord](t.TempDir(), KindSurvey, "", nil)
	assert.Error(t, err)
}

func TestConcurrentAppendsAreSerialised(t *testing.T) {
	log, err := Open[PredictionRecord](t.TempDir(), KindPrediction, testSession, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, log.Append(PredictionRecord{PredictedIndex: g*100 + i}))
			}
		}(g)
	}
	wg.Wait()

	onDisk, malformed, err := Load[PredictionRecord](log.Path())
	require.NoError(t, err)
	assert.False(t, malformed)
	assert.Len(t, onDisk, 100)
}

func TestSurveyRecorderWritesSchema(t *testing.T) {
	log, err := Open[SurveyRecord](t.TempDir(), KindSurvey, testSession, nil)
	require.NoError(t, err)

	start := time.Date(2025, 6, 3, 8, 1, 10, 425_000_000, time.Local)
	rec := NewSurveyRecorder(log, fixedClock(start))
	require.NoError(t, rec.DisplayQuestion(1))
	require.NoError(t, rec.SelectOption(1, "Yes"))
	require.NoError(t, rec.Submit())

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 3)

	assert.Equal(t, "2025-06-03 08:01:10.425", raw[0]["timestamp"])
	assert.Equal(t, "passive", raw[0]["action_type"])
	assert.Equal(t, "question_displayed", raw[0]["event_type"])
	assert.Equal(t, map[string]any{"question_index": float64(1)}, raw[0]["details"])

	assert.Equal(t, "active", raw[1]["action_type"])
	assert.Equal(t, "Yes", raw[1]["details"].(map[string]any)["selected_option"])

	assert.Equal(t, "survey_submitted", raw[2]["event_type"])
	_, hasDetails := raw[2]["details"]
	assert.False(t, hasDetails)

	events, skipped := SurveyEvents(log.ReadAll())
	assert.Zero(t, skipped)
	require.Len(t, events, 3)
	idx, ok := events[0].QuestionIndex()
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.True(t, start.Equal(events[0].Timestamp))
}

func TestClassificationRecorderRoundsConfidence(t *testing.T) {
	log, err := Open[PredictionRecord](t.TempDir(), KindPrediction, testSession, nil)
	require.NoError(t, err)

	start := time.Date(2025, 6, 3, 8, 1, 14, 372_000_000, time.Local)
	rec := NewClassificationRecorder(log, fixedClock(start))
	require.NoError(t, rec.Record(models.Classification{Label: "contempt", Confidence: 0.810149, ClassIndex: 1}))

	records := log.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, PredictionRecord{
		Timestamp:      "2025-06-03 08:01:14.372",
		PredictedLabel: "contempt",
		Confidence:     0.8101,
		PredictedIndex: 1,
	}, records[0])

	parsed, skipped := Classifications(records)
	assert.Zero(t, skipped)
	require.Len(t, parsed, 1)
	assert.True(t, parsed[0].Timestamp.Equal(start))
}

func TestConversionsSkipBadTimestamps(t *testing.T) {
	events, skipped := SurveyEvents([]SurveyRecord{
		{Timestamp: "garbage", EventType: "app_init"},
		{Timestamp: "2025-06-03 08:01:10.490", EventType: "question_displayed"},
	})
	assert.Equal(t, 1, skipped)
	require.Len(t, events, 1)
	assert.Equal(t, models.KindQuestionDisplayed, events[0].Kind)
}

func TestSessionIDFromPath(t *testing.T) {
	id, ok := SessionIDFromPath(filepath.Join("logs", FileName(KindPrediction, testSession)))
	require.True(t, ok)
	assert.Equal(t, testSession, id)

	_, ok = SessionIDFromPath("notes.json")
	assert.False(t, ok)
}
