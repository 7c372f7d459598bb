package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardedit/pkg/models"
)

func TestFromOutcome(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	o := &models.Outcome{
		RunID:      "run-1",
		Objective:  "fix typos",
		Mode:       models.ModeGuarded,
		State:      models.StateCommitted,
		Gate:       &models.GateResult{Verdict: models.VerdictEscalate},
		Touched:    []string{"README.md"},
		Inserted:   3,
		Deleted:    1,
		PublishErr: errors.New("push rejected"),
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
	}

	rec := FromOutcome(o)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "guarded", rec.Mode)
	assert.Equal(t, "Committed", rec.State)
	assert.Equal(t, "ESCALATE", rec.Verdict)
	assert.Equal(t, "push rejected", rec.PublishError)
	assert.Equal(t, []string{"README.md"}, rec.Touched)

	empty := FromOutcome(&models.Outcome{RunID: "run-2", State: models.StateNoChanges})
	assert.Equal(t, "ALLOW", empty.Verdict)
	assert.NotNil(t, empty.Touched)
	assert.Empty(t, empty.PublishError)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	err := LogSink{}.Record(context.Background(), Record{RunID: "run-9", State: "PublishedForReview", Verdict: "ESCALATE"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"run_id":"run-9"`)
	assert.Contains(t, buf.String(), `"state":"PublishedForReview"`)
}

type failingSink struct{ calls int }

func (f *failingSink) Record(ctx context.Context, rec Record) error {
	f.calls++
	return errors.New("db down")
}

func (f *failingSink) Close() {}

func TestMultiSinkTriesEverySink(t *testing.T) {
	a, b := &failingSink{}, &failingSink{}
	err := MultiSink{a, b}.Record(context.Background(), Record{RunID: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestOpenWithoutDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	sink := Open(context.Background(), "", "")
	defer sink.Close()

	multi, ok := sink.(MultiSink)
	require.True(t, ok)
	assert.Len(t, multi, 1)
}

func TestResolveDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	assert.Equal(t, "postgres://cfg", ResolveDSN(" postgres://cfg "))
	assert.Equal(t, "postgres://env", ResolveDSN(""))
}

func TestNewPostgresSinkRejectsBadTable(t *testing.T) {
	_, err := NewPostgresSink(context.Background(), "postgres://localhost/none", "runs; drop table x")
	require.Error(t, err)
}
