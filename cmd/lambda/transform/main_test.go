package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	return []*types.BatchResult{{Dataset: "vehicle-positions", Status: types.BatchOK}}, f.err
}

var (
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	feeds = []types.FeedConfig{{Dataset: "vehicle-positions", CachePrefix: "cache/vp/"}}
)

func TestHandleTransform_S3Event(t *testing.T) {
	runner := &fakeRunner{}
	payload := json.RawMessage(`{"Records":[{"eventSource":"aws:s3","s3":{"object":{"key":"cache/vp/001.json"}}}]}`)

	resp, err := handleTransform(context.Background(), runner, feeds, quiet, payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"vehicle-positions"}, runner.got)
	assert.Len(t, resp.Results, 1)
}

func TestHandleTransform_S3EventNoMatch(t *testing.T) {
	runner := &fakeRunner{}
	payload := json.RawMessage(`{"Records":[{"eventSource":"aws:s3","s3":{"object":{"key":"other/001.json"}}}]}`)

	resp, err := handleTransform(context.Background(), runner, feeds, quiet, payload)
	require.NoError(t, err)
	assert.Zero(t, runner.calls)
	assert.Empty(t, resp.Results)
}

func TestHandleTransform_Direct(t *testing.T) {
	runner := &fakeRunner{}
	_, err := handleTransform(context.Background(), runner, feeds, quiet, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Empty(t, runner.got)
}

func TestHandleTransform_RunError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("unknown dataset")}
	resp, err := handleTransform(context.Background(), runner, feeds, quiet, json.RawMessage(`{"datasets":["nope"]}`))
	require.Error(t, err)
	assert.Equal(t, "unknown dataset", resp.Error)
	assert.Equal(t, []string{"nope"}, runner.got)
}
