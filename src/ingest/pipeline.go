package ingest

import (
	"context"
	"errors"
	"slices"
	"time"

	"tickfeed/src/analysis"
	"tickfeed/src/config"
	"tickfeed/src/dataset"
	"tickfeed/src/helpers"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"
)

// Pipeline runs the update cycle of one asset of one dataset: resume, walk,
// aggregate, merge and save.
type Pipeline struct {
	Spec      config.DatasetSpec
	Ingest    config.IngestSpec
	Asset     string
	Source    interfaces.ISource
	Gateway   interfaces.IGateway
	Merger    *dataset.Merger
	Publisher interfaces.IPublisher
	Logger    *logger.Logger
	Now       func() time.Time
}

// -----------------------------------------------------------------------------

// ID is the storage identity of the pipeline's partition. Datasets that do not
// group by asset share one partition across assets.
func (p *Pipeline) ID() models.MDatasetID {
	id := models.MDatasetID{Name: p.Spec.Name}
	if slices.Contains(p.Spec.GroupFields, "asset") {
		id.Partition = map[string]string{"asset": p.Asset}
	}
	return id
}

// -----------------------------------------------------------------------------

// load returns the stored partition, or an empty dataset when nothing is
// stored yet.
func (p *Pipeline) load(ctx context.Context) (*dataset.Dataset, error) {
	ds, err := p.Gateway.Load(ctx, p.ID(), p.Spec.GroupFields)
	if errors.Is(err, helpers.ErrNotFound) {
		return dataset.New(p.Spec.GroupFields), nil
	}
	return ds, err
}

// -----------------------------------------------------------------------------

// FetchStart returns where the next walk begins: the first instant of the
// latest stored window, so that window is rebuilt from a full sample, or the
// default start for an empty partition.
func FetchStart(ds *dataset.Dataset, filter map[string]string, window analysis.Window, fallback time.Time) time.Time {
	last := dataset.ResumePoint(ds, filter, time.Time{})
	if last.IsZero() {
		return fallback
	}
	return window.Start(last)
}

// -----------------------------------------------------------------------------

// Run executes one cycle. Bars are merged and saved at every flush, so an
// error or a cancellation keeps what was flushed before it.
func (p *Pipeline) Run(ctx context.Context, runID string) (models.MCycleReport, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	id := p.ID()
	report := models.MCycleReport{
		RunID:     runID,
		Dataset:   p.Spec.Name,
		Asset:     p.Asset,
		StartedAt: now().UTC(),
	}
	finish := func(err error) (models.MCycleReport, error) {
		report.FinishedAt = now().UTC()
		if err != nil {
			report.Error = err.Error()
		}
		return report, err
	}

	stored, err := p.load(ctx)
	if err != nil {
		return finish(err)
	}
	report.TotalBars = stored.Len()

	start := FetchStart(stored, id.Partition, p.Spec.Window, p.Spec.DefaultStart)
	end := p.Spec.End
	if end.IsZero() {
		end = now().UTC()
	}
	report.FetchStart = start
	report.Cursor = start
	p.Logger.Info("Updating %s from %s to %s", id.String(), start.Format(time.RFC3339), end.Format(time.RFC3339))

	walker := &Walker{
		Source:      p.Source,
		Window:      p.Spec.Window,
		Dataset:     p.Spec.Name,
		Group:       id.String(),
		IdleDelay:   p.Ingest.IdleDelay,
		PageTimeout: p.Ingest.PageTimeout,
		MaxRetries:  p.Ingest.MaxRetries,
		FlushPages:  p.Ingest.FlushPages,
		Logger:      p.Logger,
	}
	agg := analysis.NewAggregator(p.Spec.Window, p.Spec.GroupFields, p.Logger)

	// saving must outlive a cancelled cycle
	persistCtx := context.WithoutCancel(ctx)
	sink := func(records []models.MRawRecord, final bool) error {
		bars := agg.Chunk(records, final)
		if len(bars) == 0 {
			return nil
		}
		total, stats, err := p.commit(persistCtx, bars)
		if err != nil {
			return err
		}
		report.NewBars += stats.Added
		report.TotalBars = total
		return nil
	}

	res, err := walker.Walk(ctx, start, end, sink)
	report.Cursor = res.Cursor
	report.Pages = res.Pages
	report.Records = res.Records
	report.Flushes = res.Flushes
	report.Retries = res.Retries
	report.Duplicates = res.Duplicates
	report.Dropped = res.Dropped
	report.Cancelled = res.Cancelled
	if err != nil {
		p.Logger.Error("Cycle of %s failed: %v", id.String(), err)
		return finish(err)
	}

	p.Logger.Info("Cycle of %s done: %d pages, %d records, %d new bars, %d total",
		id.String(), report.Pages, report.Records, report.NewBars, report.TotalBars)
	return finish(nil)
}

// -----------------------------------------------------------------------------

// commit merges bars into the stored partition under the partition lock and
// saves the rows the merge changed. It returns the partition size after the
// merge.
func (p *Pipeline) commit(ctx context.Context, bars []models.MBar) (int, dataset.MergeStats, error) {
	id := p.ID()
	unlock := p.Merger.Lock(id.String())
	defer unlock()

	current, err := p.load(ctx)
	if err != nil {
		return 0, dataset.MergeStats{}, err
	}
	merged, stats, err := p.Merger.Merge(current, bars, p.Spec.GroupFields)
	if err != nil {
		return 0, stats, err
	}

	delta := dataset.Delta(current, merged, bars)
	if delta.Len() == 0 && current.Len() > 0 {
		return merged.Len(), stats, nil
	}
	if err := p.Gateway.Save(ctx, id, delta); err != nil {
		return 0, stats, err
	}

	if p.Publisher != nil && delta.Len() > 0 {
		if err := p.Publisher.PublishBars(ctx, id, delta.Rows()); err != nil {
			p.Logger.Warning("Publishing %d bars of %s failed: %v", delta.Len(), id.String(), err)
		}
	}
	return merged.Len(), stats, nil
}
