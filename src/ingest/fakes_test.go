package ingest

import (
	"context"
	"sync"
	"time"

	"tickfeed/src/dataset"
	"tickfeed/src/helpers"
	"tickfeed/src/models"
)

var t0 = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

func at(min int, sec ...int) time.Time {
	d := time.Duration(min) * time.Minute
	if len(sec) > 0 {
		d += time.Duration(sec[0]) * time.Second
	}
	return t0.Add(d)
}

func tick(id string, ts time.Time, price, weight float64) models.MRawRecord {
	return models.MRawRecord{
		ID:        id,
		Timestamp: ts,
		Price:     price,
		Weight:    weight,
		Labels:    map[string]string{"asset": "btc", "side": "bid"},
	}
}

// -----------------------------------------------------------------------------

type step struct {
	page  models.MPage
	err   error
	hook  func()
	block bool // wait for the request context to end
}

// scriptedSource answers FetchPage with its steps in order and with empty
// pages once they run out.
type scriptedSource struct {
	name  string
	steps []step

	mu      sync.Mutex
	calls   int
	cursors []time.Time
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) FetchPage(ctx context.Context, cursor time.Time) (models.MPage, error) {
	s.mu.Lock()
	s.cursors = append(s.cursors, cursor)
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if i >= len(s.steps) {
		return models.MPage{}, nil
	}
	st := s.steps[i]
	if st.hook != nil {
		st.hook()
	}
	if st.block {
		<-ctx.Done()
		return models.MPage{}, ctx.Err()
	}
	if st.err != nil {
		return models.MPage{}, st.err
	}
	return st.page, nil
}

// -----------------------------------------------------------------------------

// memGateway keeps datasets in memory with upsert semantics.
type memGateway struct {
	mu    sync.Mutex
	data  map[string]*dataset.Dataset
	saves int
	rows  int
	fail  error
}

func newMemGateway() *memGateway {
	return &memGateway{data: make(map[string]*dataset.Dataset)}
}

func (g *memGateway) Load(_ context.Context, id models.MDatasetID, fields []string) (*dataset.Dataset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ds, ok := g.data[id.Name]
	if !ok {
		return nil, helpers.ErrNotFound
	}
	return ds.Filter(id.Partition), nil
}

func (g *memGateway) Save(_ context.Context, id models.MDatasetID, ds *dataset.Dataset) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return g.fail
	}
	cur, ok := g.data[id.Name]
	if !ok {
		cur = dataset.New(ds.Fields)
		g.data[id.Name] = cur
	}
	for _, b := range ds.Rows() {
		cur.Put(b)
	}
	g.saves++
	g.rows += ds.Len()
	return nil
}

func (g *memGateway) Datasets(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var names []string
	for n := range g.data {
		names = append(names, n)
	}
	return names, nil
}

func (g *memGateway) Close() error { return nil }

// -----------------------------------------------------------------------------

type recordingPublisher struct {
	mu   sync.Mutex
	bars int
}

func (p *recordingPublisher) PublishBars(_ context.Context, _ models.MDatasetID, bars []models.MBar) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars += len(bars)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// -----------------------------------------------------------------------------

type recordingExchanger struct {
	mu      sync.Mutex
	reports []models.MCycleReport
	events  []models.MHubEvent
}

func (e *recordingExchanger) Broadcast(ev models.MHubEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingExchanger) RecordReport(r models.MCycleReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, r)
}

func (e *recordingExchanger) Start() error { return nil }
func (e *recordingExchanger) Stop() error  { return nil }

// -----------------------------------------------------------------------------

// tapeSource serves a fixed tape of records, at most pageSize per page,
// strictly after the requested cursor.
type tapeSource struct {
	name     string
	tape     []models.MRawRecord
	pageSize int

	mu      sync.Mutex
	cursors []time.Time
}

func (s *tapeSource) Name() string { return s.name }

func (s *tapeSource) FetchPage(_ context.Context, cursor time.Time) (models.MPage, error) {
	s.mu.Lock()
	s.cursors = append(s.cursors, cursor)
	s.mu.Unlock()

	var page models.MPage
	for _, r := range s.tape {
		if !r.Timestamp.After(cursor) {
			continue
		}
		page.Records = append(page.Records, r)
		if len(page.Records) == s.pageSize {
			break
		}
	}
	return page, nil
}

func tickFor(asset, id string, ts time.Time, price, weight float64) models.MRawRecord {
	r := tick(id, ts, price, weight)
	r.Labels = map[string]string{"asset": asset, "side": "bid"}
	return r
}
