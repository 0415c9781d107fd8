package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"substep/internal/diffusion"
	"substep/internal/driver"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult() *driver.RunResult {
	return &driver.RunResult{
		X: diffusion.Tensor{0.5, -0.5},
		Steps: []driver.StepRecord{
			{Idx: 0, Sigma: 2.0, SigmaNext: 1.0, Norm: 1.5, DenoisedNorm: 0.9},
			{Idx: 1, Sigma: 1.0, SigmaNext: 0.0, Norm: 0.7, DenoisedNorm: 0.7},
		},
	}
}

func TestInitRequiresPath(t *testing.T) {
	s := New("")
	assert.Error(t, s.Init(context.Background()))
}

func TestSaveAndListRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.SaveRun(ctx, "euler", 42, sampleResult())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "euler", runs[0].Sampler)
	assert.Equal(t, 2, runs[0].Steps)
	assert.Equal(t, int64(42), runs[0].Seed)
}

func TestLoadTraceRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res := sampleResult()
	id, err := s.SaveRun(ctx, "dpmpp_2m", 1, res)
	require.NoError(t, err)

	steps, err := s.LoadTrace(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.Steps, steps)
}

func TestLoadTraceUnknownRunIsEmpty(t *testing.T) {
	s := newTestStore(t)
	steps, err := s.LoadTrace(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestUseBeforeInitFails(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "runs.db"))
	_, err := s.SaveRun(context.Background(), "euler", 1, sampleResult())
	assert.Error(t, err)
}
