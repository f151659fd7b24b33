package serviceobs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrecon/internal/logger"
	"fundrecon/internal/store"
	"fundrecon/internal/types"
)

type stubRunner struct {
	rep *types.JobReport
	err error
}

func (s stubRunner) Run(context.Context, store.Job) (*types.JobReport, error) {
	return s.rep, s.err
}

func (s stubRunner) RunAll(context.Context, []store.Job) ([]*types.JobReport, error) {
	return []*types.JobReport{s.rep}, s.err
}

func report() *types.JobReport {
	sum := types.NewRunSummary()
	sum.Miss("portfolio")
	sum.Zero("Quantity")
	return &types.JobReport{Job: "asio", Records: 3, Summary: sum, Stages: []string{"DONE"}}
}

func withLog(t *testing.T, cfg logger.LogConfig) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, logger.InitWithConfig(cfg, &buf))
	t.Cleanup(func() { _ = logger.InitWithConfig(logger.LogConfig{Level: "INFO"}, &bytes.Buffer{}) })
	return &buf
}

func TestRunLogsDetailOnlyWhenDetailed(t *testing.T) {
	buf := withLog(t, logger.LogConfig{Level: "INFO", Format: "json"})
	_, err := Wrap(stubRunner{rep: report()}).Run(context.Background(), store.Job{Name: "asio"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"report":"asio"`)
	assert.NotContains(t, buf.String(), "Job detail")

	buf = withLog(t, logger.LogConfig{Level: "INFO", Format: "json", DetailedLogging: true})
	_, err = Wrap(stubRunner{rep: report()}).Run(context.Background(), store.Job{Name: "asio"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Job detail")
	assert.Contains(t, buf.String(), `"resolution_misses":{"portfolio":1}`)
	assert.Contains(t, buf.String(), `"zeroed_values":{"Quantity":1}`)
}

func TestRunPassesErrorsThrough(t *testing.T) {
	withLog(t, logger.LogConfig{Level: "INFO", Format: "json"})
	boom := errors.New("boom")
	rep, err := Wrap(stubRunner{err: boom}).Run(context.Background(), store.Job{Name: "asio"})
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, boom)
}
