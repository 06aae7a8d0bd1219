package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickfeed/src/analysis"
	"tickfeed/src/helpers"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"
)

// Sink receives the records accumulated since the previous flush. final is
// set exactly once, on the last call of a walk.
type Sink func(records []models.MRawRecord, final bool) error

// WalkResult describes where a walk stopped.
type WalkResult struct {
	Cursor     time.Time
	Pages      int
	Records    int
	Flushes    int
	Retries    int
	// Duplicates are repeats of records of the previous page. Dropped are
	// late records whose window was already handed to the sink.
	Duplicates int
	Dropped    int
	Exhausted  bool // upstream returned an empty page
	Cancelled  bool
}

// -----------------------------------------------------------------------------

// Walker pages through one source from a start instant to an end instant.
type Walker struct {
	Source      interfaces.ISource
	Window      analysis.Window
	Dataset     string
	Group       string
	IdleDelay   time.Duration
	PageTimeout time.Duration
	MaxRetries  int
	FlushPages  int
	Logger      *logger.Logger
}

// -----------------------------------------------------------------------------

// Walk requests pages serially until the cursor reaches end or the upstream
// runs dry. Records at or after end are dropped, as are records already
// returned by the previous page. A late record is kept while its window is
// still open, otherwise it is counted in Dropped. Cancelling ctx ends the
// walk early: what was fetched is still flushed and no error is returned.
func (w *Walker) Walk(ctx context.Context, start, end time.Time, sink Sink) (WalkResult, error) {
	res := WalkResult{Cursor: start}
	cursor := start

	var buf []models.MRawRecord
	var flushedMax time.Time
	sinceFlush := 0
	flush := func(final bool) error {
		if len(buf) == 0 && !final {
			return nil
		}
		if err := sink(buf, final); err != nil {
			return err
		}
		for _, r := range buf {
			if r.Timestamp.After(flushedMax) {
				flushedMax = r.Timestamp
			}
		}
		buf = nil
		sinceFlush = 0
		res.Flushes++
		return nil
	}

	// boundary is the latest record time of the pages already read.
	// prevIDs holds the ids of the previous page.
	var boundary time.Time
	var prevIDs map[string]bool

	for cursor.Before(end) {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		if res.Pages > 0 {
			if err := helpers.Sleep(ctx, w.IdleDelay); err != nil {
				res.Cancelled = true
				break
			}
		}

		page, retries, err := helpers.RetryWithBackoff(ctx, w.Source.Name(), w.MaxRetries+1, w.IdleDelay, false, w.Logger,
			func(ctx context.Context) (models.MPage, error) {
				return w.fetch(ctx, cursor)
			})
		res.Retries += retries
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				break
			}
			return res, helpers.NewFatalIngestionError(w.Dataset, w.Group, cursor, err)
		}
		res.Pages++

		if len(page.Records) == 0 {
			if page.Next.After(cursor) {
				// nothing traded in this stretch, jump over it
				cursor = page.Next
				res.Cursor = cursor
				continue
			}
			res.Exhausted = true
			break
		}

		next := page.Next
		if last := page.Last(); last.After(next) {
			next = last
		}
		if !next.After(cursor) {
			return res, helpers.NewFatalIngestionError(w.Dataset, w.Group, cursor,
				fmt.Errorf("%w: %s returned %d records ending at %s", helpers.ErrCursorStalled,
					w.Source.Name(), len(page.Records), next.UTC().Format(time.RFC3339Nano)))
		}

		kept, late := 0, 0
		latest := boundary
		sealed := w.sealed(flushedMax)
		pageIDs := make(map[string]bool, len(page.Records))
		for _, r := range page.Records {
			if !r.Timestamp.Before(end) {
				continue
			}
			if r.ID != "" {
				if prevIDs[r.ID] || pageIDs[r.ID] {
					res.Duplicates++
					continue
				}
				pageIDs[r.ID] = true
			} else if r.Timestamp.Before(boundary) {
				res.Duplicates++
				continue
			}
			if r.Timestamp.Before(sealed) {
				late++
				continue
			}
			if r.Timestamp.After(latest) {
				latest = r.Timestamp
			}
			buf = append(buf, r)
			kept++
		}
		boundary = latest
		prevIDs = pageIDs
		if late > 0 {
			res.Dropped += late
			w.Logger.Warning("%s: dropped %d records older than %s, their windows are already flushed",
				w.Source.Name(), late, sealed.UTC().Format(time.RFC3339))
		}
		res.Records += kept

		cursor = next
		res.Cursor = cursor
		w.Logger.Debug("%s: page %d kept %d/%d records, cursor %s", w.Source.Name(), res.Pages, kept, len(page.Records),
			cursor.UTC().Format(time.RFC3339))

		sinceFlush++
		if w.FlushPages > 0 && sinceFlush >= w.FlushPages {
			if err := flush(false); err != nil {
				return res, err
			}
		}
	}

	if err := flush(true); err != nil {
		return res, err
	}
	return res, nil
}

// -----------------------------------------------------------------------------

// fetch runs one request under the page timeout. A timeout of the page alone
// is reported as transient.
func (w *Walker) fetch(ctx context.Context, cursor time.Time) (models.MPage, error) {
	pctx := ctx
	if w.PageTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, w.PageTimeout)
		defer cancel()
	}

	page, err := w.Source.FetchPage(pctx, cursor)
	if err != nil && ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return page, helpers.NewTransientFetchError(fmt.Sprintf("page at %s timed out", cursor.UTC().Format(time.RFC3339)), err)
	}
	return page, err
}

// -----------------------------------------------------------------------------

// sealed returns the first instant that may still be sent to the sink once
// records up to flushed were sent. The window of flushed stays open.
func (w *Walker) sealed(flushed time.Time) time.Time {
	if flushed.IsZero() {
		return time.Time{}
	}
	if w.Window.Width <= 0 {
		return flushed
	}
	return w.Window.Start(w.Window.Label(flushed))
}
