package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tickfeed/src/config"
	"tickfeed/src/dataset"
	"tickfeed/src/helpers"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SourceLookup resolves the source of one asset of a dataset.
type SourceLookup interface {
	Get(dataset, asset string) (interfaces.ISource, error)
}

// -----------------------------------------------------------------------------

var _ interfaces.IController = (*Orchestrator)(nil)

// Orchestrator runs the pipelines of the configured datasets on a bounded
// worker pool, one pipeline per (dataset, asset).
type Orchestrator struct {
	Ingest    config.IngestSpec
	Specs     []config.DatasetSpec
	Sources   SourceLookup
	Gateway   interfaces.IGateway
	Publisher interfaces.IPublisher
	Exchanger interfaces.IDataExchanger
	Errors    *helpers.ErrorHandler
	Logger    *logger.Logger
	Now       func() time.Time

	ctx     context.Context
	mergers map[string]*dataset.Merger
	errMu   sync.Mutex
	wg      sync.WaitGroup
}

// -----------------------------------------------------------------------------

// NewOrchestrator parses every dataset of cfg. ctx bounds the runs started
// with Trigger.
func NewOrchestrator(ctx context.Context, cfg *config.Config, sources SourceLookup, gw interfaces.IGateway, pub interfaces.IPublisher, log *logger.Logger) (*Orchestrator, error) {
	ingest, err := cfg.IngestSettings()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		Ingest:    ingest,
		Sources:   sources,
		Gateway:   gw,
		Publisher: pub,
		Errors:    helpers.NewErrorHandler(log),
		Logger:    log,
		ctx:       ctx,
		mergers:   make(map[string]*dataset.Merger),
	}
	for _, d := range cfg.Datasets {
		spec, err := cfg.DatasetSettings(d.Name)
		if err != nil {
			return nil, err
		}
		o.Specs = append(o.Specs, spec)
		o.mergers[spec.Name] = dataset.NewMerger(spec.Keep)
	}
	return o, nil
}

// -----------------------------------------------------------------------------

// Spec returns the parsed settings of the named dataset.
func (o *Orchestrator) Spec(name string) (config.DatasetSpec, bool) {
	for _, s := range o.Specs {
		if s.Name == name {
			return s, true
		}
	}
	return config.DatasetSpec{}, false
}

// -----------------------------------------------------------------------------

// Datasets lists the configured dataset names.
func (o *Orchestrator) Datasets() []string {
	names := make([]string, 0, len(o.Specs))
	for _, s := range o.Specs {
		names = append(names, s.Name)
	}
	return names
}

// -----------------------------------------------------------------------------

// RunAll runs one cycle of every dataset.
func (o *Orchestrator) RunAll(ctx context.Context) ([]models.MCycleReport, error) {
	return o.run(ctx, uuid.NewString(), o.Specs)
}

// -----------------------------------------------------------------------------

// RunDataset runs one cycle of every asset of the named dataset.
func (o *Orchestrator) RunDataset(ctx context.Context, name string) ([]models.MCycleReport, error) {
	spec, ok := o.Spec(name)
	if !ok {
		return nil, fmt.Errorf("dataset '%s': %w", name, helpers.ErrNotFound)
	}
	return o.run(ctx, uuid.NewString(), []config.DatasetSpec{spec})
}

// -----------------------------------------------------------------------------

// Trigger starts a cycle of the named dataset in the background and returns
// its run id.
func (o *Orchestrator) Trigger(name string) (string, error) {
	spec, ok := o.Spec(name)
	if !ok {
		return "", fmt.Errorf("dataset '%s': %w", name, helpers.ErrNotFound)
	}
	runID := uuid.NewString()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.run(o.ctx, runID, []config.DatasetSpec{spec})
	}()
	return runID, nil
}

// -----------------------------------------------------------------------------

// Wait blocks until every triggered run has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// -----------------------------------------------------------------------------

// Cursor returns the latest stored bar time of one asset of a dataset.
func (o *Orchestrator) Cursor(ctx context.Context, name, asset string) (time.Time, error) {
	p, err := o.pipeline(name, asset)
	if err != nil {
		return time.Time{}, err
	}
	ds, err := p.load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	last := dataset.ResumePoint(ds, p.ID().Partition, time.Time{})
	if last.IsZero() {
		return time.Time{}, fmt.Errorf("%s: %w", p.ID().String(), helpers.ErrNotFound)
	}
	return last, nil
}

// -----------------------------------------------------------------------------

// Load returns the stored rows of one asset of a dataset.
func (o *Orchestrator) Load(ctx context.Context, name, asset string) (*dataset.Dataset, error) {
	p, err := o.pipeline(name, asset)
	if err != nil {
		return nil, err
	}
	ds, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	// datasets not split by asset still filter on the record label
	if p.ID().Partition == nil && asset != "" {
		return ds.Filter(map[string]string{"asset": asset}), nil
	}
	return ds, nil
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) pipeline(name, asset string) (*Pipeline, error) {
	spec, ok := o.Spec(name)
	if !ok {
		return nil, fmt.Errorf("dataset '%s': %w", name, helpers.ErrNotFound)
	}
	return &Pipeline{
		Spec:      spec,
		Ingest:    o.Ingest,
		Asset:     asset,
		Gateway:   o.Gateway,
		Merger:    o.mergers[spec.Name],
		Publisher: o.Publisher,
		Logger:    o.Logger.With("dataset", spec.Name).With("asset", asset),
		Now:       o.Now,
	}, nil
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) run(ctx context.Context, runID string, specs []config.DatasetSpec) ([]models.MCycleReport, error) {
	type job struct {
		spec  config.DatasetSpec
		asset string
	}
	var jobs []job
	for _, s := range specs {
		for _, a := range s.Assets {
			jobs = append(jobs, job{spec: s, asset: a})
		}
	}

	reports := make([]models.MCycleReport, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(max(o.Ingest.Concurrency, 1))
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			reports[i], errs[i] = o.runOne(ctx, runID, j.spec.Name, j.asset)
			return nil
		})
	}
	_ = g.Wait()

	o.Logger.Info("Run %s finished: %d pipelines", runID, len(jobs))
	return reports, errors.Join(errs...)
}

// -----------------------------------------------------------------------------

func (o *Orchestrator) runOne(ctx context.Context, runID, name, asset string) (models.MCycleReport, error) {
	p, err := o.pipeline(name, asset)
	if err != nil {
		return models.MCycleReport{RunID: runID, Dataset: name, Asset: asset, Error: err.Error()}, err
	}
	src, err := o.Sources.Get(name, asset)
	if err != nil {
		return models.MCycleReport{RunID: runID, Dataset: name, Asset: asset, Error: err.Error()}, err
	}
	p.Source = src

	report, err := p.Run(ctx, runID)

	o.errMu.Lock()
	if o.Errors.Handle(err, p.ID().String()) {
		o.Logger.Error("Error budget exhausted after %d consecutive failures", o.Errors.ErrorCount)
		o.Errors.ResetErrorCount()
	}
	o.errMu.Unlock()

	if o.Exchanger != nil {
		o.Exchanger.RecordReport(report)
		o.Exchanger.Broadcast(models.MHubEvent{
			Type:      "CYCLE",
			Report:    &report,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	return report, err
}
