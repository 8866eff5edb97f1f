package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intgcpfunc "github.com/dwsmith1983/gtfsload/internal/gcpfunc"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

type fakeRunner struct {
	calls int
	got   []string
	err   error
}

func (f *fakeRunner) Run(_ context.Context, datasets []string) ([]*types.BatchResult, error) {
	f.calls++
	f.got = datasets
	var out []*types.BatchResult
	for _, ds := range datasets {
		out = append(out, &types.BatchResult{Dataset: ds, Status: types.BatchOK})
	}
	return out, f.err
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestServeTransform(t *testing.T) {
	runner := &fakeRunner{}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"datasets":["vehicle-positions"]}`))
	rec := httptest.NewRecorder()

	serveTransform(rec, req, runner, quiet)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"vehicle-positions"}, runner.got)

	var resp intgcpfunc.TransformResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, types.BatchOK, resp.Results[0].Status)
	assert.Empty(t, resp.Error)
}

func TestServeTransform_EmptyBodyRunsAll(t *testing.T) {
	runner := &fakeRunner{}
	rec := httptest.NewRecorder()
	serveTransform(rec, httptest.NewRequest(http.MethodPost, "/", nil), runner, quiet)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.calls)
	assert.Nil(t, runner.got)
}

func TestServeTransform_BadBody(t *testing.T) {
	runner := &fakeRunner{}
	rec := httptest.NewRecorder()
	serveTransform(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")), runner, quiet)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestServeTransform_RunError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("rt_vehicle_positions: destination table not found")}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"datasets":["vehicle-positions"]}`))

	serveTransform(rec, req, runner, quiet)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp intgcpfunc.TransformResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.Error, "table not found")
	assert.Len(t, resp.Results, 1)
}
