// Package server wires the HTTP surface: request validation, routing and
// error-to-status mapping over the ticker and prediction services.
package server

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finbarsvc/tickersvc/internal/predict"
	"github.com/finbarsvc/tickersvc/internal/tickers"
	apperrors "github.com/finbarsvc/tickersvc/pkg/errors"
	"github.com/finbarsvc/tickersvc/pkg/models"
)

//go:embed templates/home.html
var templatesFS embed.FS

// Server represents the HTTP server
type Server struct {
	logger     *zap.Logger
	tickersSvc tickers.Service
	predictor  predict.Predictor
}

// NewServer creates a new HTTP server
func NewServer(logger *zap.Logger, tickersSvc tickers.Service, predictor predict.Predictor) *Server {
	return &Server{
		logger:     logger,
		tickersSvc: tickersSvc,
		predictor:  predictor,
	}
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	// Add middleware
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/home.html")))
	router.GET("/", s.handleHome)

	// Add health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Add Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Add API routes
	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			t := v1.Group("/tickers")
			{
				register := t.Group("/register")
				{
					register.POST("/", s.handleCreateTicker)
					register.GET("/", s.handleListTickers)
					register.GET("/:id", s.handleGetTicker)
					register.PUT("/:id", s.handleUpdateTicker)
					register.PATCH("/:id", s.handlePatchTicker)
					register.DELETE("/:id", s.handleDeleteTicker)
				}
				t.POST("/predict/", s.handlePredict)
			}
		}
	}

	return router
}

// writeError writes a JSON error response with the status the error's
// kind maps to. Unexpected errors are logged and answered generically.
func (s *Server) writeError(c *gin.Context, err error) {
	status := apperrors.StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		if status == http.StatusInternalServerError {
			c.JSON(status, gin.H{"error": "internal server error"})
			return
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleHome(c *gin.Context) {
	c.HTML(http.StatusOK, "home.html", nil)
}

// handleCreateTicker handles POST register/. A body carrying only ticket
// and date asks for ingestion from the market data source; a body with
// the full OHLCV set registers the bar directly.
func (s *Server) handleCreateTicker(c *gin.Context) {
	var req models.TickerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Partial() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direct registration requires all of open, high, low, close and volume"})
		return
	}

	var (
		bar *models.PriceBar
		err error
	)
	if req.Direct() {
		bar, err = s.tickersSvc.Create(c.Request.Context(), &models.PriceBar{
			Ticket: req.Ticket,
			Date:   req.Date,
			Open:   *req.Open,
			High:   *req.High,
			Low:    *req.Low,
			Close:  *req.Close,
			Volume: *req.Volume,
		})
	} else {
		bar, err = s.tickersSvc.Ingest(c.Request.Context(), req.Ticket, req.Date)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bar)
}

// handleListTickers handles GET register/
func (s *Server) handleListTickers(c *gin.Context) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	bars, err := s.tickersSvc.List(c.Request.Context(), offset, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if bars == nil {
		bars = []*models.PriceBar{}
	}

	c.JSON(http.StatusOK, models.TickerList{Tickers: bars})
}

// handleGetTicker handles GET register/:id
func (s *Server) handleGetTicker(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	bar, err := s.tickersSvc.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, bar)
}

// handleUpdateTicker handles PUT register/:id. Every field is mandatory.
func (s *Server) handleUpdateTicker(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	var req models.TickerUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bar, err := s.tickersSvc.Update(c.Request.Context(), id, &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bar)
}

// handlePatchTicker handles PATCH register/:id. Absent fields stay
// untouched.
func (s *Server) handlePatchTicker(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	var req models.TickerPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bar, err := s.tickersSvc.Patch(c.Request.Context(), id, &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bar)
}

// handleDeleteTicker handles DELETE register/:id
func (s *Server) handleDeleteTicker(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}

	if err := s.tickersSvc.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// handlePredict handles POST predict/. The handler is a pure
// pass-through to the predictor; no row is created as a side effect.
func (s *Server) handlePredict(c *gin.Context) {
	var req models.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	predicted, err := s.predictor.Predict(c.Request.Context(), req.Ticket)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.PredictResponse{PredictedRent: predicted})
}

func (s *Server) pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}
