package datasource

import (
	"context"
	"encoding/json"
	"time"

	"tickfeed/src/cache"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"
)

// CachedSource memoises the pages of an inner source. Only pages that lie
// entirely before now-MinAge are stored, since recent pages may still grow.
type CachedSource struct {
	Inner  interfaces.ISource
	Cache  interfaces.IPageCache
	MinAge time.Duration
	TTL    time.Duration
	Logger *logger.Logger
	Now    func() time.Time
}

// -----------------------------------------------------------------------------

func NewCachedSource(inner interfaces.ISource, c interfaces.IPageCache, minAge, ttl time.Duration, log *logger.Logger) *CachedSource {
	return &CachedSource{
		Inner:  inner,
		Cache:  c,
		MinAge: minAge,
		TTL:    ttl,
		Logger: log,
		Now:    time.Now,
	}
}

// -----------------------------------------------------------------------------

func (s *CachedSource) Name() string {
	return s.Inner.Name()
}

// -----------------------------------------------------------------------------

func (s *CachedSource) FetchPage(ctx context.Context, cursor time.Time) (models.MPage, error) {
	key, err := cache.Key("FetchPage", s.Inner.Name(), cursor.UTC())
	if err != nil {
		return s.Inner.FetchPage(ctx, cursor)
	}

	if data, ok, err := s.Cache.Get(ctx, key); err != nil {
		s.Logger.Warning("Page cache read failed for %s: %v", s.Name(), err)
	} else if ok {
		var page models.MPage
		if err := json.Unmarshal(data, &page); err == nil {
			s.Logger.Debug("Page cache hit for %s at %s", s.Name(), cursor.Format(time.RFC3339))
			return page, nil
		}
	}

	page, err := s.Inner.FetchPage(ctx, cursor)
	if err != nil {
		return page, err
	}

	if s.settled(page) {
		data, err := json.Marshal(page)
		if err == nil {
			if err := s.Cache.Put(ctx, key, data, s.TTL); err != nil {
				s.Logger.Warning("Page cache write failed for %s: %v", s.Name(), err)
			}
		}
	}
	return page, nil
}

// -----------------------------------------------------------------------------

func (s *CachedSource) settled(page models.MPage) bool {
	if len(page.Records) == 0 {
		return false
	}
	last := page.Last()
	if page.Next.After(last) {
		last = page.Next
	}
	return last.Before(s.Now().Add(-s.MinAge))
}
