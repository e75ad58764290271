package service

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-water/internal/metrics"
)

// ErrNothingToExport is returned when the selection cannot be exported.
var ErrNothingToExport = errors.New("nothing to export")

// DownloadLink is one export result. Region is the 1-based selection order.
type DownloadLink struct {
	Region int    `json:"region" doc:"1-based position of the region in the selection"`
	URL    string `json:"url" doc:"Download URL returned by the backend"`
}

// MetadataFile is the locally generated parameter table.
type MetadataFile struct {
	Name    string `json:"name" doc:"File name offered for download" example:"SurfaceWaterTool_2016-01-01_2016-12-31.csv"`
	Content string `json:"content" doc:"CSV content: names line, then values line"`
}

// ExportPanel is the download panel state.
type ExportPanel struct {
	Visible   bool           `json:"visible" doc:"Whether the panel is shown"`
	Preparing bool           `json:"preparing" doc:"True until the first export request completes"`
	Name      string         `json:"name,omitempty" doc:"Export name shared by all requests"`
	Expected  int            `json:"expected" doc:"Number of export requests in the chain"`
	Done      int            `json:"done" doc:"Number of export requests completed, failed or not"`
	Links     []DownloadLink `json:"links" doc:"Download links in selection order; failed regions have none"`
	Metadata  *MetadataFile  `json:"metadata,omitempty" doc:"Parameter table artifact"`
}

// ExportRecord is one outcome written to the export ledger.
type ExportRecord struct {
	SessionID string       `json:"sessionId" doc:"Session that ran the export"`
	Name      string       `json:"name" doc:"Export file name"`
	Path      string       `json:"path" enum:"drawn,selected" doc:"Drawn polygon or selected region"`
	Region    int          `json:"region" doc:"1-based region number"`
	Kind      string       `json:"kind,omitempty" doc:"Region kind for selected exports"`
	Lat       float64      `json:"lat,omitempty" doc:"Click latitude for selected exports"`
	Lng       float64      `json:"lng,omitempty" doc:"Click longitude for selected exports"`
	AreaKm2   float64      `json:"areaKm2,omitempty" doc:"Region area in km2"`
	URL       string       `json:"url,omitempty" doc:"Download link, empty on failure"`
	Error     string       `json:"error,omitempty" doc:"Backend error, empty on success"`
	Params    ParameterSet `json:"params" doc:"Parameters the export ran with"`
	At        time.Time    `json:"at" doc:"Completion time"`
}

// Ledger stores export outcomes.
type Ledger interface {
	Record(ctx context.Context, rec ExportRecord) error
}

// ExportJob is what the selector hands to the coordinator.
type ExportJob struct {
	Params  ParameterSet
	Name    string
	Polygon orb.Ring
	Area    float64
	Regions []Region
}

// ExportCoordinator drives export requests and assembles the download panel.
// Selected regions are exported one at a time, in selection order.
type ExportCoordinator struct {
	sessionID string
	backend   Backend
	sched     Scheduler
	ledger    Ledger
	log       *zap.SugaredLogger
	publish   func(resource string)

	panel ExportPanel
	epoch uint64
	now   func() time.Time
}

// NewExportCoordinator creates a coordinator. ledger may be nil.
func NewExportCoordinator(sessionID string, backend Backend, sched Scheduler, ledger Ledger, log *zap.SugaredLogger, publish func(string)) *ExportCoordinator {
	if publish == nil {
		publish = func(string) {}
	}
	return &ExportCoordinator{
		sessionID: sessionID,
		backend:   backend,
		sched:     sched,
		ledger:    ledger,
		log:       log,
		publish:   publish,
		now:       time.Now,
	}
}

// Start clears the panel and begins a new export. A running chain is abandoned.
func (e *ExportCoordinator) Start(job ExportJob) error {
	if job.Polygon == nil && len(job.Regions) == 0 {
		return ErrNothingToExport
	}
	if job.Name == "" {
		job.Name = job.Params.DefaultExportName()
	}

	e.epoch++
	e.panel = ExportPanel{
		Visible:   true,
		Preparing: true,
		Name:      job.Name,
		Links:     []DownloadLink{},
		Metadata: &MetadataFile{
			Name:    job.Name + ".csv",
			Content: string(job.Params.MetadataCSV()),
		},
	}

	if job.Polygon != nil {
		e.panel.Expected = 1
		e.exportDrawn(e.epoch, job)
	} else {
		e.panel.Expected = len(job.Regions)
		e.exportRegion(e.epoch, job, 0)
	}
	e.publish("export")
	return nil
}

func (e *ExportCoordinator) exportDrawn(epoch uint64, job ExportJob) {
	rec := ExportRecord{Name: job.Name, Path: "drawn", Region: 1, AreaKm2: job.Area, Params: job.Params}
	var link string
	e.sched.Run(func(ctx context.Context) (err error) {
		link, err = e.backend.ExportDrawn(ctx, job.Params, job.Polygon, job.Name)
		e.record(ctx, rec, link, err)
		return err
	}, func(err error) {
		if !e.current(epoch) {
			return
		}
		e.complete(1, link, err)
	})
}

// exportRegion exports job.Regions[i] and chains to i+1 when it completes.
// Links are numbered by the region's position in the selection.
func (e *ExportCoordinator) exportRegion(epoch uint64, job ExportJob, i int) {
	if i >= len(job.Regions) {
		return
	}
	reg := job.Regions[i]
	rec := ExportRecord{
		Name: job.Name, Path: "selected", Region: reg.Offset + 1, Kind: string(reg.Kind),
		Lat: reg.Lat, Lng: reg.Lng, AreaKm2: reg.AreaKm2, Params: job.Params,
	}
	var link string
	e.sched.Run(func(ctx context.Context) (err error) {
		link, err = e.backend.ExportSelected(ctx, job.Params, reg.Kind, reg.Point(), job.Name)
		e.record(ctx, rec, link, err)
		return err
	}, func(err error) {
		if !e.current(epoch) {
			return
		}
		e.complete(reg.Offset+1, link, err)
		e.exportRegion(epoch, job, i+1)
	})
}

func (e *ExportCoordinator) complete(region int, link string, err error) {
	defer e.publish("export")
	e.panel.Preparing = false
	e.panel.Done++
	if err != nil {
		e.log.Errorw("export failed", "name", e.panel.Name, "region", region, "error", err)
		return
	}
	e.panel.Links = append(e.panel.Links, DownloadLink{Region: region, URL: link})
}

func (e *ExportCoordinator) current(epoch uint64) bool {
	if epoch == e.epoch {
		return true
	}
	metrics.DiscardedResults.WithLabelValues("export").Inc()
	return false
}

// record runs off the loop, next to the backend call.
func (e *ExportCoordinator) record(ctx context.Context, rec ExportRecord, link string, err error) {
	metrics.ExportsTotal.WithLabelValues(rec.Path, metrics.Outcome(err)).Inc()
	if e.ledger == nil {
		return
	}
	rec.SessionID = e.sessionID
	rec.URL = link
	rec.At = e.now().UTC()
	if err != nil {
		rec.Error = err.Error()
	}
	if lerr := e.ledger.Record(ctx, rec); lerr != nil {
		e.log.Errorw("recording export", "name", rec.Name, "region", rec.Region, "error", lerr)
	}
}

// Clear hides the panel and abandons any running chain.
func (e *ExportCoordinator) Clear() {
	e.epoch++
	e.panel = ExportPanel{}
	e.publish("export")
}

// Panel returns a copy of the panel state.
func (e *ExportCoordinator) Panel() ExportPanel {
	p := e.panel
	p.Links = append([]DownloadLink{}, e.panel.Links...)
	return p
}

// Running reports whether an export chain has requests outstanding.
func (e *ExportCoordinator) Running() bool {
	return e.panel.Visible && e.panel.Done < e.panel.Expected
}
