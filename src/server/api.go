package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tickfeed/src/config"
	"tickfeed/src/helpers"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/models"
	"tickfeed/src/utils"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

type APIServer struct {
	Config     *models.MConfig
	Logger     *logger.Logger
	Controller interfaces.IController
	Reports    *utils.ReportBook
	engine     *gin.Engine
	httpServer *http.Server

	// WebSocket clients, owned by the hub loop
	clients    map[*Client]struct{}
	broadcast  chan models.MHubEvent
	register   chan *Client
	unregister chan *Client
	replies    chan clientReply
	done       chan struct{}
	stopOnce   sync.Once

	connections atomic.Int32
	lastUpdate  atomic.Int64
}

var _ interfaces.IDataExchanger = (*APIServer)(nil)

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, ctrl interfaces.IController, reports *utils.ReportBook, log *logger.Logger) *APIServer {
	// Set Gin mode
	if cfg.LogLevel != "debug" && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if reports == nil {
		reports = utils.NewReportBook(256)
	}

	s := &APIServer{
		Config:     cfg,
		Logger:     log,
		Controller: ctrl,
		Reports:    reports,
		engine:     gin.New(),
		clients:    make(map[*Client]struct{}),
		// Buffered so a burst of cycle reports never blocks the pipelines
		broadcast:  make(chan models.MHubEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		replies:    make(chan clientReply, 64),
		done:       make(chan struct{}),
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.setupRoutes()
	go s.handleWebsockets()
	return s
}

// -----------------------------------------------------------------------------

func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/config", s.getConfig)
	api.GET("/reports", s.getReports)

	ds := api.Group("/datasets/:name")
	ds.GET("/cursor", s.getCursor)
	ds.GET("/bars", s.getBars)
	ds.GET("/pivot", s.getPivot)
	ds.POST("/update", s.postUpdate)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the routes, e.g. for httptest.
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *APIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Logger.Info("Starting server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *APIServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.httpServer.Shutdown(ctx)
		}
	})
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"connections":   s.connections.Load(),
		"latest_update": s.lastUpdate.Load(),
		"datasets":      s.Controller.Datasets(),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getConfig(c *gin.Context) {
	type datasetView struct {
		Name        string   `json:"name"`
		Source      string   `json:"source"`
		Assets      []string `json:"assets"`
		GroupFields []string `json:"group_fields"`
		Window      string   `json:"window"`
		Offset      string   `json:"offset,omitempty"`
		Keep        string   `json:"keep"`
	}

	views := make([]datasetView, 0, len(s.Config.Datasets))
	for _, d := range s.Config.Datasets {
		views = append(views, datasetView{
			Name:        d.Name,
			Source:      d.Source,
			Assets:      d.Assets,
			GroupFields: d.GroupFields,
			Window:      d.Window,
			Offset:      d.Offset,
			Keep:        d.Keep,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"datasets": views,
		"schedule": s.Config.Ingest.Schedule,
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getReports(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Reports.Latest(c.Query("dataset"), limit))
}

// -----------------------------------------------------------------------------

func (s *APIServer) getCursor(c *gin.Context) {
	name, asset := c.Param("name"), strings.ToLower(c.Query("asset"))
	cursor, err := s.Controller.Cursor(c.Request.Context(), name, asset)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{"dataset": name, "asset": asset, "cursor": cursor}
	if last, ok := s.Reports.LastFor(name, asset); ok {
		resp["last_run"] = last
	}
	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getBars(c *gin.Context) {
	from, err := parseInstantParam(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := parseInstantParam(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ds, err := s.Controller.Load(c.Request.Context(), c.Param("name"), strings.ToLower(c.Query("asset")))
	if err != nil {
		s.fail(c, err)
		return
	}
	bars := ds.Range(from, to)
	if bars == nil {
		bars = []models.MBar{}
	}
	c.JSON(http.StatusOK, gin.H{"fields": ds.Fields, "bars": bars})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getPivot(c *gin.Context) {
	ds, err := s.Controller.Load(c.Request.Context(), c.Param("name"), strings.ToLower(c.Query("asset")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ds.Pivot())
}

// -----------------------------------------------------------------------------

func (s *APIServer) postUpdate(c *gin.Context) {
	runID, err := s.Controller.Trigger(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// -----------------------------------------------------------------------------

func (s *APIServer) fail(c *gin.Context, err error) {
	var conflict *helpers.MergeKeyConflict
	switch {
	case errors.Is(err, helpers.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.Logger.Error("Request %s failed: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// -----------------------------------------------------------------------------

func parseInstantParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return config.ParseInstant(v)
}
