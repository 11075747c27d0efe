package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pastevault/pkg/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPaste(createdAt time.Time, lifetimeMinutes float64) *domain.Paste {
	p := &domain.Paste{
		UUID:            uuid.NewString(),
		Title:           "snippet",
		ContentHash:     "abc123",
		Language:        "go",
		LifetimeMinutes: lifetimeMinutes,
		CreatedAt:       createdAt,
	}
	if lifetimeMinutes > 0 {
		expires := createdAt.Add(time.Duration(lifetimeMinutes * float64(time.Minute)))
		p.ExpiresAt = &expires
	}
	return p
}

func mustCreate(t *testing.T, s *SQLite, p *domain.Paste) {
	t.Helper()
	if err := s.Create(context.Background(), p, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := testPaste(now, 60)
	var fillID int64
	err := s.Create(context.Background(), p, func(id int64) error {
		fillID = id
		return nil
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == 0 || p.ID != fillID {
		t.Fatalf("expected fill callback to see the assigned id, got row=%d fill=%d", p.ID, fillID)
	}
	got, err := s.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "snippet" || got.Language != "go" || got.ContentHash != "abc123" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected expires_at %v, got %v", now.Add(time.Hour), got.ExpiresAt)
	}
	if got.IsExpired {
		t.Fatal("fresh paste must not be expired")
	}
}

func TestCreateRollsBackOnFillError(t *testing.T) {
	s := newTestDB(t)
	p := testPaste(time.Now().UTC(), 60)
	err := s.Create(context.Background(), p, func(id int64) error {
		return errors.New("blob write failed")
	})
	if err == nil {
		t.Fatal("expected create to fail")
	}
	n, err := s.CountAll(context.Background())
	if err != nil {
		t.Fatalf("CountAll: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback to leave no rows, got %d", n)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestDB(t)
	_, err := s.Get(context.Background(), 999)
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("expected ErrPasteNotFound, got %v", err)
	}
}

func TestSecretKeyLookupIsPrivateOnly(t *testing.T) {
	s := newTestDB(t)
	now := time.Now().UTC()

	pub := testPaste(now, 60)
	pub.SecretKey = "public-row-key"
	mustCreate(t, s, pub)

	priv := testPaste(now, 60)
	priv.IsPrivate = true
	priv.SecretKey = "private-row-key"
	mustCreate(t, s, priv)

	if _, err := s.GetBySecretKey(context.Background(), "public-row-key"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("secret lookup must not serve public rows, got %v", err)
	}
	got, err := s.GetBySecretKey(context.Background(), "private-row-key")
	if err != nil {
		t.Fatalf("GetBySecretKey: %v", err)
	}
	if got.ID != priv.ID {
		t.Fatalf("expected paste %d, got %d", priv.ID, got.ID)
	}
}

func TestSecretKeyConflict(t *testing.T) {
	s := newTestDB(t)
	now := time.Now().UTC()
	a := testPaste(now, 60)
	a.IsPrivate = true
	a.SecretKey = "duplicate"
	mustCreate(t, s, a)

	b := testPaste(now, 60)
	b.IsPrivate = true
	b.SecretKey = "duplicate"
	err := s.Create(context.Background(), b, nil)
	if !errors.Is(err, domain.ErrSecretKeyTaken) {
		t.Fatalf("expected ErrSecretKeyTaken, got %v", err)
	}

	taken, err := s.SecretKeyExists(context.Background(), "duplicate")
	if err != nil || !taken {
		t.Fatalf("SecretKeyExists = %v, %v", taken, err)
	}
}

func TestExpiredCandidates(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due := testPaste(now.Add(-2*time.Hour), 60)
	mustCreate(t, s, due)

	fresh := testPaste(now.Add(-10*time.Minute), 60)
	mustCreate(t, s, fresh)

	forever := testPaste(now.Add(-48*time.Hour), 0)
	// A never-expiring row keeps lifetime 0 even if a deadline column
	// was populated by mistake; it must stay out of the sweep.
	stray := now.Add(-time.Hour)
	forever.ExpiresAt = &stray
	mustCreate(t, s, forever)

	already := testPaste(now.Add(-3*time.Hour), 60)
	mustCreate(t, s, already)
	if err := s.MarkExpired(ctx, already.ID); err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}

	got, err := s.ExpiredCandidates(ctx, now)
	if err != nil {
		t.Fatalf("ExpiredCandidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("expected only paste %d, got %+v", due.ID, got)
	}
}

func TestStaleExpiredGraceBoundary(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	grace := 24 * time.Hour

	inside := testPaste(now.Add(-23*time.Hour-30*time.Minute), 30)
	mustCreate(t, s, inside)
	if err := s.MarkExpired(ctx, inside.ID); err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}

	past := testPaste(now.Add(-26*time.Hour), 30)
	mustCreate(t, s, past)
	if err := s.MarkExpired(ctx, past.ID); err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}

	got, err := s.StaleExpired(ctx, now.Add(-grace))
	if err != nil {
		t.Fatalf("StaleExpired: %v", err)
	}
	if len(got) != 1 || got[0].ID != past.ID {
		t.Fatalf("expected only paste %d past the grace window, got %+v", past.ID, got)
	}
}

func TestApplySweep(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	kill := testPaste(now, 60)
	mustCreate(t, s, kill)
	flag := testPaste(now, 60)
	mustCreate(t, s, flag)

	deleted, err := s.ApplySweep(ctx, []int64{kill.ID}, []int64{flag.ID})
	if err != nil {
		t.Fatalf("ApplySweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := s.Get(ctx, kill.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("expected row %d gone, got %v", kill.ID, err)
	}
	got, err := s.Get(ctx, flag.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsExpired {
		t.Fatal("expected failed-cleanup row to be marked expired")
	}
}

func TestListPublicLive(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	oldGo := testPaste(base.Add(-3*time.Hour), 0)
	mustCreate(t, s, oldGo)
	newPy := testPaste(base.Add(-1*time.Hour), 0)
	newPy.Language = "python"
	mustCreate(t, s, newPy)
	private := testPaste(base.Add(-30*time.Minute), 0)
	private.IsPrivate = true
	private.SecretKey = "hidden"
	mustCreate(t, s, private)
	gone := testPaste(base.Add(-10*time.Minute), 5)
	mustCreate(t, s, gone)
	if err := s.MarkExpired(ctx, gone.ID); err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}

	got, err := s.ListPublicLive(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListPublicLive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 live public pastes, got %d", len(got))
	}
	if got[0].ID != newPy.ID || got[1].ID != oldGo.ID {
		t.Fatalf("expected newest first, got %d then %d", got[0].ID, got[1].ID)
	}

	got, err = s.ListPublicLive(ctx, "python", 10)
	if err != nil {
		t.Fatalf("ListPublicLive(python): %v", err)
	}
	if len(got) != 1 || got[0].ID != newPy.ID {
		t.Fatalf("language filter failed: %+v", got)
	}
}

func TestIncrViews(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	p := testPaste(time.Now().UTC(), 0)
	mustCreate(t, s, p)
	for i := 0; i < 3; i++ {
		if err := s.IncrViews(ctx, p.ID); err != nil {
			t.Fatalf("IncrViews: %v", err)
		}
	}
	got, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ViewsCount != 3 {
		t.Fatalf("expected 3 views, got %d", got.ViewsCount)
	}
}

func TestStatUpsert(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	stat, err := s.GetOrCreateStat(ctx, "total_pastes_ever", 7)
	if err != nil {
		t.Fatalf("GetOrCreateStat: %v", err)
	}
	if stat.Value != 7 {
		t.Fatalf("expected seed 7, got %d", stat.Value)
	}

	// Seeding again must not overwrite the stored value.
	stat, err = s.GetOrCreateStat(ctx, "total_pastes_ever", 99)
	if err != nil {
		t.Fatalf("GetOrCreateStat: %v", err)
	}
	if stat.Value != 7 {
		t.Fatalf("re-seed must keep 7, got %d", stat.Value)
	}

	v, err := s.IncrementStat(ctx, "total_pastes_ever", 1)
	if err != nil {
		t.Fatalf("IncrementStat: %v", err)
	}
	if v != 8 {
		t.Fatalf("expected 8, got %d", v)
	}
}

func TestIncrementStatConcurrent(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	const workers = 10
	const perWorker = 10

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := s.IncrementStat(ctx, "concurrent", 1); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("IncrementStat: %v", err)
	}

	v, err := s.GetStat(ctx, "concurrent", 0)
	if err != nil {
		t.Fatalf("GetStat: %v", err)
	}
	if v != workers*perWorker {
		t.Fatalf("expected %d, got %d", workers*perWorker, v)
	}
}

func TestCountPublicSince(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	recent := testPaste(now.Add(-2*24*time.Hour), 0)
	mustCreate(t, s, recent)
	old := testPaste(now.Add(-10*24*time.Hour), 0)
	mustCreate(t, s, old)

	n, err := s.CountPublicSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("CountPublicSince: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 paste this week, got %d", n)
	}
}
