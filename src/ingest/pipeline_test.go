package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tickfeed/src/analysis"
	"tickfeed/src/config"
	"tickfeed/src/dataset"
	"tickfeed/src/helpers"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"
	"tickfeed/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradesSpec(end time.Time, keep dataset.KeepPolicy) config.DatasetSpec {
	return config.DatasetSpec{
		MDatasetConfig: models.MDatasetConfig{
			Name:        "trades",
			Source:      "kraken_trades",
			Assets:      []string{"btc"},
			GroupFields: []string{"asset"},
		},
		Window:       analysis.Window{Width: 10 * time.Minute},
		DefaultStart: t0,
		End:          end,
		Keep:         keep,
	}
}

func newPipeline(spec config.DatasetSpec, src interfaces.ISource, gw interfaces.IGateway) *Pipeline {
	return &Pipeline{
		Spec:      spec,
		Ingest:    config.IngestSpec{MaxRetries: 1, FlushPages: 1, Concurrency: 1},
		Asset:     "btc",
		Source:    src,
		Gateway:   gw,
		Merger:    dataset.NewMerger(spec.Keep),
		Publisher: &recordingPublisher{},
		Logger:    logger.NewLogger(nil, "pipeline-test"),
	}
}

// two pages covering 00:00 to 01:00
func twoPages() []step {
	return []step{
		{page: models.MPage{Next: at(30), Records: []models.MRawRecord{
			tick("1", at(1), 100, 1), tick("2", at(4), 102, 3), tick("3", at(12), 110, 2), tick("4", at(22), 120, 1),
		}}},
		{page: models.MPage{Records: []models.MRawRecord{
			tick("5", at(35), 130, 1), tick("6", at(41), 140, 1), tick("7", at(55), 150, 2),
			tick("8", at(59), 160, 2), tick("9", at(60), 170, 5),
		}}},
	}
}

func tape() []models.MRawRecord {
	var out []models.MRawRecord
	for _, st := range twoPages() {
		out = append(out, st.page.Records...)
	}
	return out
}

func prices(ds *dataset.Dataset) map[time.Time]float64 {
	out := make(map[time.Time]float64)
	for _, b := range ds.Rows() {
		out[b.Timestamp] = b.Price
	}
	return out
}

func TestPipelineTwoPagesGiveSixBars(t *testing.T) {
	gw := newMemGateway()
	src := &scriptedSource{name: "fake", steps: twoPages()}
	p := newPipeline(tradesSpec(at(60), dataset.KeepLast), src, gw)

	report, err := p.Run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, t0, report.FetchStart)
	assert.Equal(t, at(60), report.Cursor)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 8, report.Records)
	assert.Equal(t, 6, report.NewBars)
	assert.Equal(t, 6, report.TotalBars)
	assert.Empty(t, report.Error)

	ds, err := gw.Load(context.Background(), p.ID(), nil)
	require.NoError(t, err)
	rows := ds.Rows()
	require.Len(t, rows, 6)
	for i, b := range rows {
		assert.Equal(t, at(10*(i+1)), b.Timestamp)
		assert.Equal(t, models.Labels{"asset": "btc"}, b.Group)
	}

	want := []float64{101.5, 110, 120, 130, 140, 155}
	for i, b := range rows {
		assert.InDelta(t, want[i], b.Price, 1e-9, "bar %s", b.Timestamp)
	}
	assert.Equal(t, 4.0, rows[0].Weight)
	assert.Equal(t, 2, rows[0].Count)
	assert.Equal(t, 6, p.Publisher.(*recordingPublisher).bars)
}

func TestPipelineTwoPagesWithHalfWidthOffset(t *testing.T) {
	gw := newMemGateway()
	spec := tradesSpec(at(60), dataset.KeepLast)
	spec.Window.Offset = 5 * time.Minute
	p := newPipeline(spec, &scriptedSource{name: "fake", steps: twoPages()}, gw)

	report, err := p.Run(context.Background(), "run-offset")
	require.NoError(t, err)
	assert.Equal(t, 8, report.Records)
	assert.Equal(t, 5, report.NewBars)

	ds, err := gw.Load(context.Background(), p.ID(), nil)
	require.NoError(t, err)

	// label L covers [L-5m, L+5m), so 00:30 has no ticks
	want := map[time.Time]float64{
		at(0):  101.5,
		at(10): 110,
		at(20): 120,
		at(40): 135,
		at(60): 155,
	}
	got := prices(ds)
	require.Len(t, got, len(want))
	for label, price := range want {
		assert.InDelta(t, price, got[label], 1e-9, "bar %s", label)
	}

	rows := ds.Rows()
	first, edge := rows[0], rows[len(rows)-1]
	assert.Equal(t, t0, first.Timestamp)
	assert.Equal(t, 2, first.Count)
	assert.Equal(t, at(60), edge.Timestamp)
	assert.Equal(t, 2, edge.Count, "the 01:00 tick is past the end")
	assert.Equal(t, 4.0, edge.Weight)
}

func TestPipelineResumesFromLastWindow(t *testing.T) {
	gw := newMemGateway()
	first := &tapeSource{name: "tape", tape: tape(), pageSize: 4}
	_, err := newPipeline(tradesSpec(at(60), dataset.KeepLast), first, gw).Run(context.Background(), "a")
	require.NoError(t, err)

	more := append(tape(), tick("10", at(65), 170, 1))
	second := &tapeSource{name: "tape", tape: more, pageSize: 4}
	report, err := newPipeline(tradesSpec(at(70), dataset.KeepLast), second, gw).Run(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, at(50), second.cursors[0], "resume re-reads the last stored window")
	assert.Equal(t, at(50), report.FetchStart)
	assert.Equal(t, 1, report.NewBars)
	assert.Equal(t, 7, report.TotalBars)

	ds, err := gw.Load(context.Background(), models.MDatasetID{Name: "trades"}, nil)
	require.NoError(t, err)
	got := prices(ds)
	assert.InDelta(t, 155, got[at(60)], 1e-9)
	assert.InDelta(t, 170, got[at(70)], 1e-9)
}

func TestPipelineIsIdempotent(t *testing.T) {
	gw := newMemGateway()
	var saves, written int
	for i := 0; i < 2; i++ {
		src := &tapeSource{name: "tape", tape: tape(), pageSize: 3}
		p := newPipeline(tradesSpec(at(60), dataset.KeepLast), src, gw)
		report, err := p.Run(context.Background(), "run")
		require.NoError(t, err)
		if i == 1 {
			assert.Equal(t, 0, report.NewBars)
			assert.Equal(t, saves, gw.saves, "unchanged bars are not saved again")
			assert.Equal(t, written, gw.rows)
			assert.Zero(t, p.Publisher.(*recordingPublisher).bars)
		}
		saves, written = gw.saves, gw.rows
		assert.Equal(t, 6, report.TotalBars)
	}
	assert.Equal(t, 6, written, "every bar is written once")

	ds, err := gw.Load(context.Background(), models.MDatasetID{Name: "trades"}, nil)
	require.NoError(t, err)
	got := prices(ds)
	assert.InDelta(t, 101.5, got[at(10)], 1e-9)
	assert.InDelta(t, 155, got[at(60)], 1e-9)
}

func TestPipelineKeepPolicyOnRecomputedWindow(t *testing.T) {
	revised := tape()
	for i := range revised {
		if revised[i].ID == "8" {
			revised[i].Price = 170
		}
	}

	for policy, want := range map[dataset.KeepPolicy]float64{dataset.KeepLast: 160, dataset.KeepFirst: 155} {
		gw := newMemGateway()
		_, err := newPipeline(tradesSpec(at(60), policy), &tapeSource{name: "tape", tape: tape(), pageSize: 4}, gw).
			Run(context.Background(), "a")
		require.NoError(t, err)
		_, err = newPipeline(tradesSpec(at(60), policy), &tapeSource{name: "tape", tape: revised, pageSize: 4}, gw).
			Run(context.Background(), "b")
		require.NoError(t, err)

		ds, err := gw.Load(context.Background(), models.MDatasetID{Name: "trades"}, nil)
		require.NoError(t, err)
		assert.InDelta(t, want, prices(ds)[at(60)], 1e-9, "policy %s", policy)
	}
}

func TestPipelineKeepsProgressOnFatalError(t *testing.T) {
	gw := newMemGateway()
	steps := twoPages()[:1]
	steps = append(steps, step{err: helpers.NewHTTPStatusError("upstream/trades", 400)})
	p := newPipeline(tradesSpec(at(60), dataset.KeepLast), &scriptedSource{name: "fake", steps: steps}, gw)

	report, err := p.Run(context.Background(), "run")
	var fatal *helpers.FatalIngestionError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, at(30), fatal.Cursor)
	assert.NotEmpty(t, report.Error)
	assert.Equal(t, 2, report.NewBars)

	ds, err := gw.Load(context.Background(), p.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
}

func TestPipelineCancellationFlushesPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := newMemGateway()
	steps := twoPages()[:1]
	steps = append(steps, step{hook: cancel, err: context.Canceled})
	p := newPipeline(tradesSpec(at(60), dataset.KeepLast), &scriptedSource{name: "fake", steps: steps}, gw)

	report, err := p.Run(ctx, "run")
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 3, report.TotalBars)
}

func TestPipelineReportsPersistenceFailure(t *testing.T) {
	gw := newMemGateway()
	gw.fail = helpers.NewPersistenceUnavailable("save", nil)
	p := newPipeline(tradesSpec(at(60), dataset.KeepLast), &scriptedSource{name: "fake", steps: twoPages()}, gw)

	_, err := p.Run(context.Background(), "run")
	var unavailable *helpers.PersistenceUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

func TestPipelineWithSQLiteGateway(t *testing.T) {
	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "bars.db")}}
	gw, err := storage.NewSQLiteGateway(cfg, logger.NewLogger(nil, "pipeline-test"))
	require.NoError(t, err)
	defer gw.Close()

	p := newPipeline(tradesSpec(at(60), dataset.KeepLast), &scriptedSource{name: "fake", steps: twoPages()}, gw)
	report, err := p.Run(context.Background(), "run")
	require.NoError(t, err)
	assert.Equal(t, 6, report.TotalBars)

	start := FetchStart(mustLoad(t, gw, p.ID()), p.ID().Partition, p.Spec.Window, p.Spec.DefaultStart)
	assert.Equal(t, at(50), start)
}

func TestFetchStartFallsBack(t *testing.T) {
	w := analysis.Window{Width: 10 * time.Minute, Offset: 5 * time.Minute}
	assert.Equal(t, t0, FetchStart(dataset.New([]string{"asset"}), nil, w, t0))

	ds := dataset.FromBars([]string{"asset"}, []models.MBar{{Timestamp: at(60), Group: models.Labels{"asset": "btc"}, Price: 1, Weight: 1}})
	assert.Equal(t, t0, FetchStart(ds, map[string]string{"asset": "eth"}, w, t0))
	assert.Equal(t, at(55), FetchStart(ds, map[string]string{"asset": "btc"}, w, t0))
}

func mustLoad(t *testing.T, gw interfaces.IGateway, id models.MDatasetID) *dataset.Dataset {
	t.Helper()
	ds, err := gw.Load(context.Background(), id, nil)
	require.NoError(t, err)
	return ds
}
