package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCronTime(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 30, 45, 0, time.UTC) // Saturday

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{name: "daily at three", expr: "0 3 * * *", want: time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)},
		{name: "every minute", expr: "* * * * *", want: time.Date(2026, 3, 14, 10, 31, 0, 0, time.UTC)},
		{name: "step", expr: "*/15 * * * *", want: time.Date(2026, 3, 14, 10, 45, 0, 0, time.UTC)},
		{name: "list", expr: "0 9,12 * * *", want: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)},
		{name: "range of weekdays", expr: "0 8 * * 1-5", want: time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC)},
		{name: "first of month", expr: "0 0 1 * *", want: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"0 3 * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		assert.Error(t, ValidateCron(expr), expr)
	}
	assert.NoError(t, ValidateCron("0 3 * * *"))
}

func TestNextCronTime_Impossible(t *testing.T) {
	_, err := nextCronTime("0 0 31 2 *", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}

type recordingArchiver struct {
	from, to time.Time
	err      error
}

func (r *recordingArchiver) ArchiveSettled(_ context.Context, from, to time.Time) (int64, error) {
	r.from, r.to = from, to
	return 3, r.err
}

func TestArchiver_RunWindow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 3, 14, 3, 0, 5, 0, time.UTC)

	tests := []struct {
		name      string
		retention int
		wantFrom  time.Time
	}{
		{name: "yesterday", retention: 1, wantFrom: time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)},
		{name: "zero treated as one", retention: 0, wantFrom: time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)},
		{name: "week", retention: 7, wantFrom: time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingArchiver{}
			a := NewArchiver(rec, tt.retention, logger)
			a.now = func() time.Time { return now }

			require.NoError(t, a.Run(context.Background()))
			assert.Equal(t, tt.wantFrom, rec.from)
			assert.Equal(t, tt.wantFrom.Add(24*time.Hour), rec.to)
		})
	}
}

func TestArchiver_RunError(t *testing.T) {
	rec := &recordingArchiver{err: errors.New("s3 down")}
	a := NewArchiver(rec, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 down")
}

func TestArchiver_RunCronStopsOnCancel(t *testing.T) {
	a := NewArchiver(&recordingArchiver{}, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.RunCron(ctx, "0 3 * * *"), context.Canceled)
	assert.Error(t, a.RunCron(context.Background(), "bad"))
}
