package svc

import (
	"context"
	"strings"
	"time"

	"pastevault/cfg"
	"pastevault/metrics"
	"pastevault/pkg/domain"
	"pastevault/svc/blob"
	"pastevault/svc/cache"
	"pastevault/svc/db"
	"pastevault/svc/util"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	contentPlaceholder = "content unavailable"
	keyGenAttempts     = 3
	hydrateConcurrency = 8
)

// Paste owns the paste lifecycle: creation across the metadata row and
// the content blob, resolution with lazy expiry, deletion, listing and
// aggregate stats. The relational store is authoritative for liveness;
// the two cache tiers only ever hold immutable content bytes.
type Paste struct {
	db    *db.SQLite
	blobs blob.Store
	lru   *cache.LRU
	rdb   *db.Redis
	cfg   *cfg.Cfg
	now   func() time.Time
}

// NewPaste wires the service. rdb may be nil when Redis is not
// configured; everything else is required.
func NewPaste(sqlDB *db.SQLite, blobs blob.Store, lru *cache.LRU, rdb *db.Redis, c *cfg.Cfg) *Paste {
	if sqlDB == nil || blobs == nil || lru == nil || c == nil {
		panic("paste service: nil dependency (db, blobs, lru, or cfg)")
	}
	return &Paste{
		db:    sqlDB,
		blobs: blobs,
		lru:   lru,
		rdb:   rdb,
		cfg:   c,
		now:   time.Now,
	}
}

func (p *Paste) validate(params *domain.CreateParams) error {
	params.Title = strings.TrimSpace(params.Title)
	if params.Title == "" {
		return domain.ErrTitleRequired
	}
	if len(params.Title) > p.cfg.MaxTitleLen {
		params.Title = params.Title[:p.cfg.MaxTitleLen]
	}
	if strings.TrimSpace(params.Content) == "" {
		return domain.ErrContentRequired
	}
	if int64(len(params.Content)) > p.cfg.MaxPasteSize {
		return domain.ErrPasteTooLarge
	}
	if params.LifetimeMinutes < 0 {
		return domain.ErrInvalidLifetime
	}
	if params.Language == "" {
		params.Language = "text"
	}
	if params.SecretKey != "" && !params.IsPrivate {
		return domain.ErrInvalidRequest
	}
	return nil
}

func (p *Paste) pickSecretKey(ctx context.Context, params domain.CreateParams) (string, error) {
	if !params.IsPrivate {
		return "", nil
	}
	if params.SecretKey != "" {
		taken, err := p.db.SecretKeyExists(ctx, params.SecretKey)
		if err != nil {
			return "", errors.Wrap(err, "check secret key")
		}
		if taken {
			return "", domain.ErrSecretKeyTaken
		}
		return params.SecretKey, nil
	}
	for i := 0; i < keyGenAttempts; i++ {
		key, err := util.GenSecretKey()
		if err != nil {
			return "", errors.Wrap(err, "gen secret key")
		}
		taken, err := p.db.SecretKeyExists(ctx, key)
		if err != nil {
			return "", errors.Wrap(err, "check secret key")
		}
		if !taken {
			return key, nil
		}
	}
	return "", errors.New("could not generate a unique secret key")
}

// Create writes the metadata row and the content blob together. The
// blob write runs inside the row's transaction callback, so a failed
// blob write rolls the row back and nothing half-created survives.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := p.validate(&params); err != nil {
		return nil, err
	}
	secretKey, err := p.pickSecretKey(ctx, params)
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()
	paste := &domain.Paste{
		UUID:            uuid.NewString(),
		Title:           params.Title,
		ContentHash:     blob.HashContent([]byte(params.Content)),
		Language:        params.Language,
		LifetimeMinutes: params.LifetimeMinutes,
		IsPrivate:       params.IsPrivate,
		SecretKey:       secretKey,
		CreatedAt:       now,
	}
	if params.LifetimeMinutes > 0 {
		expires := now.Add(time.Duration(params.LifetimeMinutes * float64(time.Minute)))
		paste.ExpiresAt = &expires
	}
	err = p.db.Create(ctx, paste, func(id int64) error {
		hash, err := p.blobs.Put(ctx, id, []byte(params.Content))
		if err != nil {
			metrics.BlobErrors.WithLabelValues("put").Inc()
			return errors.Wrap(err, "write content blob")
		}
		paste.ContentHash = hash
		meta := &blob.Metadata{
			Title:           paste.Title,
			Language:        paste.Language,
			LifetimeMinutes: paste.LifetimeMinutes,
			IsPrivate:       paste.IsPrivate,
			CreatedAt:       paste.CreatedAt,
		}
		if err := p.blobs.PutMetadata(ctx, id, meta); err != nil {
			util.Warn().Err(err).Int64("id", id).Msg("failed to write metadata sidecar")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	key := blob.CacheKey(paste.ID, paste.ContentHash)
	p.lru.Set(key, []byte(params.Content))
	if p.rdb != nil {
		if err := p.rdb.SetContent(ctx, key, []byte(params.Content)); err != nil {
			util.Warn().Err(err).Int64("id", paste.ID).Msg("failed to cache content in redis")
		}
	}
	paste.Content = params.Content
	if _, err := p.db.IncrementStat(ctx, "total_pastes_ever", 1); err != nil {
		util.Warn().Err(err).Msg("failed to increment total_pastes_ever")
	}
	metrics.PasteCreated.Inc()
	util.Info().Int64("id", paste.ID).Bool("private", paste.IsPrivate).Msg("paste created")
	return paste, nil
}

// expireIfDue applies lazy expiry: a row read past its deadline is
// marked expired in the store before any serving decision is made.
// Returns true when the paste is expired.
func (p *Paste) expireIfDue(ctx context.Context, paste *domain.Paste) (bool, error) {
	if paste.IsExpired {
		return true, nil
	}
	if paste.ExpiresAt == nil || paste.LifetimeMinutes <= 0 {
		return false, nil
	}
	if paste.ExpiresAt.After(p.now().UTC()) {
		return false, nil
	}
	if err := p.db.MarkExpired(ctx, paste.ID); err != nil {
		return false, errors.Wrap(err, "mark expired")
	}
	paste.IsExpired = true
	metrics.PasteExpired.Inc()
	util.Debug().Int64("id", paste.ID).Msg("paste lazily expired on access")
	return true, nil
}

// Resolve serves a public paste by numeric id. Private pastes are
// indistinguishable from expired ones on this path.
func (p *Paste) Resolve(ctx context.Context, id int64) (*domain.Paste, error) {
	paste, err := p.db.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if paste.IsPrivate {
		return nil, domain.ErrPastePrivate
	}
	return p.serve(ctx, paste)
}

// ResolveSecret serves a private paste by its secret key.
func (p *Paste) ResolveSecret(ctx context.Context, key string) (*domain.Paste, error) {
	paste, err := p.db.GetBySecretKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return p.serve(ctx, paste)
}

func (p *Paste) serve(ctx context.Context, paste *domain.Paste) (*domain.Paste, error) {
	expired, err := p.expireIfDue(ctx, paste)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, domain.ErrPasteExpired
	}
	paste.Content = p.loadContent(ctx, paste)
	if err := p.db.IncrViews(ctx, paste.ID); err != nil {
		util.Warn().Err(err).Int64("id", paste.ID).Msg("failed to incr views")
	} else {
		paste.ViewsCount++
	}
	metrics.PasteResolved.Inc()
	return paste, nil
}

// loadContent hydrates the content bytes through lru, then redis, then
// the blob store. A blob failure degrades to a placeholder instead of
// failing the whole resolution; the metadata is still worth serving.
func (p *Paste) loadContent(ctx context.Context, paste *domain.Paste) string {
	key := blob.CacheKey(paste.ID, paste.ContentHash)
	if data, ok := p.lru.Get(key); ok {
		metrics.CacheHits.WithLabelValues("lru").Inc()
		return string(data)
	}
	if p.rdb != nil {
		data, err := p.rdb.GetContent(ctx, key)
		if err != nil {
			util.Warn().Err(err).Int64("id", paste.ID).Msg("redis content lookup failed")
		} else if data != nil {
			metrics.CacheHits.WithLabelValues("redis").Inc()
			p.lru.Set(key, data)
			return string(data)
		}
	}
	metrics.CacheMisses.Inc()
	data, err := p.blobs.Get(ctx, paste.ID, paste.ContentHash)
	if err != nil {
		metrics.BlobErrors.WithLabelValues("get").Inc()
		util.Error().Err(err).Int64("id", paste.ID).Msg("content blob unreadable")
		return contentPlaceholder
	}
	p.lru.Set(key, data)
	if p.rdb != nil {
		if err := p.rdb.SetContent(ctx, key, data); err != nil {
			util.Warn().Err(err).Int64("id", paste.ID).Msg("failed to cache content in redis")
		}
	}
	return string(data)
}

// Delete removes a public paste by id. Private pastes must be deleted
// through their secret key.
func (p *Paste) Delete(ctx context.Context, id int64) error {
	paste, err := p.db.Get(ctx, id)
	if err != nil {
		return err
	}
	if paste.IsPrivate {
		return domain.ErrDeleteForbidden
	}
	return p.remove(ctx, paste)
}

// DeleteSecret removes a private paste by its secret key.
func (p *Paste) DeleteSecret(ctx context.Context, key string) error {
	paste, err := p.db.GetBySecretKey(ctx, key)
	if err != nil {
		return err
	}
	return p.remove(ctx, paste)
}

// remove deletes blob first, row second. A missing blob is fine; any
// other blob failure aborts before the row is touched, so the row can
// never point at content we failed to clean up.
func (p *Paste) remove(ctx context.Context, paste *domain.Paste) error {
	if err := p.blobs.Delete(ctx, paste.ID, paste.ContentHash); err != nil && !errors.Is(err, blob.ErrNotFound) {
		metrics.BlobErrors.WithLabelValues("delete").Inc()
		return errors.Wrap(err, "delete content blob")
	}
	if err := p.blobs.DeleteMetadata(ctx, paste.ID); err != nil && !errors.Is(err, blob.ErrNotFound) {
		util.Warn().Err(err).Int64("id", paste.ID).Msg("failed to delete metadata sidecar")
	}
	if err := p.db.Delete(ctx, paste.ID); err != nil {
		return errors.Wrap(err, "delete paste row")
	}
	key := blob.CacheKey(paste.ID, paste.ContentHash)
	p.lru.Delete(key)
	if p.rdb != nil {
		if err := p.rdb.DeleteContent(ctx, key); err != nil {
			util.Warn().Err(err).Int64("id", paste.ID).Msg("failed to evict content from redis")
		}
	}
	metrics.PasteDeleted.Inc()
	util.Info().Int64("id", paste.ID).Msg("paste deleted")
	return nil
}

// liveOnly drops rows past their deadline from a listing and marks them
// expired in one batch, so list reads observe the same lazy-expiry
// transition as single-paste reads.
func (p *Paste) liveOnly(ctx context.Context, pastes []*domain.Paste) ([]*domain.Paste, error) {
	now := p.now().UTC()
	var live []*domain.Paste
	var dueIDs []int64
	for _, paste := range pastes {
		if paste.Live(now) {
			live = append(live, paste)
			continue
		}
		if !paste.IsExpired {
			dueIDs = append(dueIDs, paste.ID)
		}
	}
	if len(dueIDs) > 0 {
		if err := p.db.MarkExpiredBatch(ctx, dueIDs); err != nil {
			return nil, errors.Wrap(err, "mark expired batch")
		}
		metrics.PasteExpired.Add(float64(len(dueIDs)))
	}
	return live, nil
}

// hydrate fills Content for a batch of pastes concurrently.
func (p *Paste) hydrate(ctx context.Context, pastes []*domain.Paste) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateConcurrency)
	for _, paste := range pastes {
		paste := paste
		g.Go(func() error {
			paste.Content = p.loadContent(gctx, paste)
			return nil
		})
	}
	return g.Wait()
}

// Recent lists the newest live public pastes with content attached.
func (p *Paste) Recent(ctx context.Context) ([]*domain.Paste, error) {
	// Fetch extra rows so lazily expired ones do not shrink the page.
	pastes, err := p.db.ListPublicLive(ctx, "", p.cfg.RecentLimit*2)
	if err != nil {
		return nil, err
	}
	live, err := p.liveOnly(ctx, pastes)
	if err != nil {
		return nil, err
	}
	if len(live) > p.cfg.RecentLimit {
		live = live[:p.cfg.RecentLimit]
	}
	if err := p.hydrate(ctx, live); err != nil {
		return nil, err
	}
	return live, nil
}

// SearchLive matches live public pastes whose title or content contains
// the query, case-insensitive, optionally narrowed to one language.
// An empty query matches everything in scope.
func (p *Paste) SearchLive(ctx context.Context, query, category string) ([]*domain.Paste, error) {
	pastes, err := p.db.ListPublicLive(ctx, category, p.cfg.SearchLimit)
	if err != nil {
		return nil, err
	}
	live, err := p.liveOnly(ctx, pastes)
	if err != nil {
		return nil, err
	}
	if err := p.hydrate(ctx, live); err != nil {
		return nil, err
	}
	if query == "" {
		return live, nil
	}
	q := strings.ToLower(query)
	var matched []*domain.Paste
	for _, paste := range live {
		if strings.Contains(strings.ToLower(paste.Title), q) ||
			strings.Contains(strings.ToLower(paste.Content), q) {
			matched = append(matched, paste)
		}
	}
	return matched, nil
}

// Categories lists the distinct languages of live public pastes.
func (p *Paste) Categories(ctx context.Context) ([]string, error) {
	return p.db.DistinctLanguages(ctx, true)
}

// Stats aggregates service-level counters. total_pastes_ever is the
// monotonic app_stats counter seeded at startup, so it keeps counting
// pastes the sweeper has long since removed.
func (p *Paste) Stats(ctx context.Context) (*domain.Stats, error) {
	total, err := p.db.GetStat(ctx, "total_pastes_ever", 0)
	if err != nil {
		return nil, err
	}
	active, err := p.db.CountPublic(ctx, false)
	if err != nil {
		return nil, err
	}
	expired, err := p.db.CountPublic(ctx, true)
	if err != nil {
		return nil, err
	}
	week, err := p.db.CountPublicSince(ctx, p.now().UTC().AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	langs, err := p.db.DistinctLanguages(ctx, true)
	if err != nil {
		return nil, err
	}
	return &domain.Stats{
		TotalPastes:    total,
		ActivePastes:   active,
		ExpiredPastes:  expired,
		PastesThisWeek: week,
		Categories:     int64(len(langs)),
	}, nil
}
