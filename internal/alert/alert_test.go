package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

func testReport() types.Report {
	return types.Report{
		Level:     types.ReportError,
		Dataset:   "vehicle_positions",
		Message:   "write failed",
		Timestamp: time.Now(),
	}
}

func TestConsoleSink_Send(t *testing.T) {
	var buf bytes.Buffer
	sink := &ConsoleSink{out: &buf}
	assert.Equal(t, "console", sink.Name())

	ctx := context.Background()
	for _, level := range []types.ReportLevel{types.ReportError, types.ReportWarning, types.ReportInfo} {
		r := testReport()
		r.Level = level
		require.NoError(t, sink.Send(ctx, r))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ERROR")
	assert.Contains(t, lines[1], "WARN")
	assert.Contains(t, lines[2], "[vehicle_positions] write failed")
}

func TestWebhookSink_Send_Success(t *testing.T) {
	var received []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL)
	report := testReport()
	require.NoError(t, sink.Send(context.Background(), report))

	var got types.Report
	require.NoError(t, json.Unmarshal(received, &got))
	assert.Equal(t, report.Message, got.Message)
	assert.Equal(t, report.Dataset, got.Dataset)
}

func TestWebhookSink_Send_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	err := NewWebhookSink(ts.URL).Send(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestFileSink_Send(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	assert.Equal(t, "file", sink.Name())

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, testReport()))
	require.NoError(t, sink.Send(ctx, testReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var got types.Report
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, "write failed", got.Message)
}

// errSink is a test sink that always returns an error.
type errSink struct{}

func (s *errSink) Send(_ context.Context, _ types.Report) error { return fmt.Errorf("sink error") }
func (s *errSink) Name() string                                 { return "error-sink" }

// recordSink records all reports sent to it.
type recordSink struct {
	reports []types.Report
}

func (s *recordSink) Send(_ context.Context, r types.Report) error {
	s.reports = append(s.reports, r)
	return nil
}
func (s *recordSink) Name() string { return "record-sink" }

func TestDispatcher_MultiSink(t *testing.T) {
	s1, s2 := &recordSink{}, &recordSink{}
	d := New(s1, s2)
	assert.Equal(t, 2, d.Len())

	report := testReport()
	d.Dispatch(context.Background(), report)

	assert.Len(t, s1.reports, 1)
	assert.Len(t, s2.reports, 1)
	assert.Equal(t, report.Message, s1.reports[0].Message)
}

func TestDispatcher_SinkError_ContinuesOthers(t *testing.T) {
	recording := &recordSink{}
	d := New(&errSink{}, recording)

	d.Dispatch(context.Background(), testReport())

	assert.Len(t, recording.reports, 1)
}

func TestDispatcher_MinLevel(t *testing.T) {
	all, errorsOnly := &recordSink{}, &recordSink{}
	d := New(all)
	d.routes = append(d.routes, route{sink: errorsOnly, minLevel: types.ReportWarning})

	ctx := context.Background()
	for _, level := range []types.ReportLevel{types.ReportInfo, types.ReportWarning, types.ReportError} {
		r := testReport()
		r.Level = level
		d.Dispatch(ctx, r)
	}

	assert.Len(t, all.reports, 3)
	require.Len(t, errorsOnly.reports, 2)
	assert.Equal(t, types.ReportWarning, errorsOnly.reports[0].Level)
}

func TestDispatcher_Nil(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() { d.Dispatch(context.Background(), testReport()) })
}

func TestNewDispatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.jsonl")
	d, err := NewDispatcher([]types.SinkConfig{
		{Type: types.SinkConsole},
		{Type: types.SinkFile, Path: path, MinLevel: types.ReportError},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	_, err = NewDispatcher([]types.SinkConfig{{Type: types.SinkWebhook}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook URL required")

	_, err = NewDispatcher([]types.SinkConfig{{Type: "carrier-pigeon"}})
	require.Error(t, err)
}

func TestReportFor(t *testing.T) {
	finished := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		status types.BatchStatus
		want   types.ReportLevel
	}{
		{types.BatchOK, types.ReportInfo},
		{types.BatchEmpty, types.ReportInfo},
		{types.BatchPartial, types.ReportWarning},
		{types.BatchError, types.ReportError},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			res := &types.BatchResult{
				Dataset:     "trip_updates",
				Status:      tt.status,
				Items:       3,
				RowsWritten: 12,
				FinishedAt:  finished,
			}
			r := ReportFor(res)
			assert.Equal(t, tt.want, r.Level)
			assert.Equal(t, "trip_updates", r.Dataset)
			assert.Equal(t, finished, r.Timestamp)
			assert.Same(t, res, r.Result)
			assert.Contains(t, r.Message, "12 rows written")
		})
	}
}

func TestReportFor_KeepsMessage(t *testing.T) {
	r := ReportFor(&types.BatchResult{Status: types.BatchError, Message: "source listing failed"})
	assert.Equal(t, "source listing failed", r.Message)
	assert.False(t, r.Timestamp.IsZero())
}
