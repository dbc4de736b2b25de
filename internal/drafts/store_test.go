package drafts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/idf-drafter/internal/idf"
)

func TestCreateAndGetReturnIndependentCopies(t *testing.T) {
	var sizes []int
	s := NewStore(WithSizeHook(func(n int) { sizes = append(sizes, n) }))
	d := s.Create("Self-sealing catheter")
	require.NotEmpty(t, d.ID)

	d.Record.Title = "mutated locally"
	got, err := s.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Record.Title)
	assert.Equal(t, "Self-sealing catheter", got.Topic)
	assert.NotNil(t, got.Record.PriorArt)
	assert.Equal(t, []int{1}, sizes)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCommitsOnlyOnSuccess(t *testing.T) {
	s := NewStore()
	d := s.Create("")

	_, err := s.Update(context.Background(), d.ID, func(r *idf.Record) error {
		r.Title = "half-written"
		return errors.New("decode failed")
	})
	require.Error(t, err)
	got, _ := s.Get(d.ID)
	assert.Equal(t, "", got.Record.Title)
	assert.Equal(t, 0, got.Version)

	got, err = s.Update(context.Background(), d.ID, func(r *idf.Record) error {
		return r.SetText(idf.FieldTitle, "Self-sealing catheter")
	})
	require.NoError(t, err)
	assert.Equal(t, "Self-sealing catheter", got.Record.Title)
	assert.Equal(t, 1, got.Version)
}

func TestCanceledContextNeverMutates(t *testing.T) {
	s := NewStore()
	d := s.Create("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := idf.New()
	rec.Title = "from a canceled bootstrap"
	_, err := s.Replace(ctx, d.ID, rec)
	assert.ErrorIs(t, err, context.Canceled)

	got, _ := s.Get(d.ID)
	assert.Equal(t, "", got.Record.Title)
}

func TestOneAIRequestInFlightPerDraft(t *testing.T) {
	s := NewStore()
	a := s.Create("")
	b := s.Create("")

	_, release, err := s.BeginAI(a.ID)
	require.NoError(t, err)

	_, _, err = s.BeginAI(a.ID)
	assert.ErrorIs(t, err, ErrRefineInFlight)

	_, releaseB, err := s.BeginAI(b.ID)
	require.NoError(t, err, "other drafts are independent")
	releaseB()

	got, _ := s.Get(a.ID)
	assert.True(t, got.Busy)
	release()
	release()

	_, release2, err := s.BeginAI(a.ID)
	require.NoError(t, err)
	release2()
}

func TestMutationDuringExportIsRejected(t *testing.T) {
	s := NewStore()
	d := s.Create("")
	_, err := s.Update(context.Background(), d.ID, func(r *idf.Record) error { r.Title = "v1"; return nil })
	require.NoError(t, err)

	snap, done, err := s.BeginExport(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", snap.Record.Title)
	assert.True(t, snap.Exporting)

	_, err = s.Update(context.Background(), d.ID, func(r *idf.Record) error { r.Title = "v2"; return nil })
	assert.ErrorIs(t, err, ErrExportInProgress)
	assert.ErrorIs(t, s.Delete(d.ID), ErrExportInProgress)

	done()
	_, err = s.Update(context.Background(), d.ID, func(r *idf.Record) error { r.Title = "v2"; return nil })
	assert.NoError(t, err)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	s := NewStore()
	d := s.Create("")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(context.Background(), d.ID, func(r *idf.Record) error {
				r.Inventors = append(r.Inventors, idf.Inventor{Name: "x"})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := s.Get(d.ID)
	assert.Len(t, got.Record.Inventors, 20)
	assert.Equal(t, 20, got.Version)
}

func TestPruneDropsIdleDrafts(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return now }))
	old := s.Create("old")
	busy := s.Create("busy")
	_, release, err := s.BeginAI(busy.ID)
	require.NoError(t, err)
	defer release()

	now = now.Add(2 * time.Hour)
	fresh := s.Create("fresh")

	assert.Equal(t, 1, s.Prune(time.Hour))
	_, err = s.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(fresh.ID)
	assert.NoError(t, err)
	assert.Len(t, s.List(), 2)
}
