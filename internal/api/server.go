// Package api exposes the workflow and ledger reads over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/AIAleph/oracle_submit/internal/config"
	"github.com/AIAleph/oracle_submit/internal/content"
	"github.com/AIAleph/oracle_submit/internal/diagnose"
	"github.com/AIAleph/oracle_submit/internal/ledger"
	"github.com/AIAleph/oracle_submit/internal/logging"
	"github.com/AIAleph/oracle_submit/internal/metrics"
	"github.com/AIAleph/oracle_submit/internal/oracle"
	"github.com/AIAleph/oracle_submit/internal/submit"
)

const (
	defaultRecent = 5
	maxRecent     = 100
)

// Backend is the workflow surface the server needs; *oracle.Workflow satisfies it.
type Backend interface {
	Run(ctx context.Context, in oracle.Input) (oracle.Result, error)
	Record(ctx context.Context, id uint64) (ledger.Record, error)
	Recent(ctx context.Context, n int) ([]ledger.Record, error)
	Approvals(ctx context.Context, id uint64) (ledger.Approval, error)
	Vote(ctx context.Context, id uint64, voter common.Address) (ledger.Vote, error)
	Governance(ctx context.Context) (ledger.Governance, error)
}

// Fetcher reads content documents; *content.Gateway satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, ref string, out any) error
	Exists(ctx context.Context, ref string) (bool, error)
}

// Info is echoed by the status route.
type Info struct {
	Contract      string
	OracleAddress string
	ChainID       int64
}

type Server struct {
	backend    Backend
	content    Fetcher
	info       Info
	privateKey string
	engine     *gin.Engine
	logger     *slog.Logger
}

// New wires routes. privateKey may be empty, in which case submissions are
// simulated.
func New(b Backend, f Fetcher, info Info, privateKey string) *Server {
	s := &Server{
		backend:    b,
		content:    f,
		info:       info,
		privateKey: privateKey,
		logger:     logging.Component("api"),
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "HEAD", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/", s.Status)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/submissions", s.Submit)
	v1.GET("/records", s.Recent)
	v1.GET("/records/:id", s.Record)
	v1.GET("/records/:id/approvals", s.Approvals)
	v1.GET("/governance", s.Governance)
	v1.GET("/content/:cid", s.Content)
	v1.HEAD("/content/:cid", s.ContentExists)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "duration_ms", time.Since(start).Milliseconds())
	}
}

func notConfigured(v string) string {
	if v == "" {
		return "Not configured"
	}
	return v
}

func (s *Server) Status(c *gin.Context) {
	network := fmt.Sprintf("Chain ID: %d", s.info.ChainID)
	if s.info.ChainID == 97 {
		network = "BSC Testnet (Chain ID: 97)"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Oracle submission API is running.",
		"smart_contract": notConfigured(s.info.Contract),
		"oracle_address": notConfigured(s.info.OracleAddress),
		"network":        network,
	})
}

type submitBody struct {
	IPFSHash        string `json:"ipfsHash"`
	ConfidenceScore *int   `json:"confidenceScore"`
	Wait            bool   `json:"wait"`
}

func (s *Server) Submit(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if body.ConfidenceScore == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confidenceScore is required"})
		return
	}
	res, err := s.backend.Run(c.Request.Context(), oracle.Input{
		ContentRef: body.IPFSHash,
		Score:      *body.ConfidenceScore,
		PrivateKey: s.privateKey,
		Wait:       body.Wait,
	})
	var ve *oracle.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if res.Endpoint != nil {
		d := *res.Endpoint
		d.URL = config.RedactURL(d.URL)
		res.Endpoint = &d
	}
	resp := gin.H{"status": res.Outcome.Status.String(), "result": res}
	if !res.OK() {
		resp["error"] = res.Outcome.Reason
		resp["diagnosis"] = res.Kind.String()
		resp["guidance"] = diagnose.Guidance(res.Kind)
	}
	c.JSON(statusCode(res), resp)
}

// statusCode maps a workflow result onto HTTP semantics.
func statusCode(res oracle.Result) int {
	switch res.Outcome.Status {
	case submit.NoEndpointAvailable:
		return http.StatusServiceUnavailable
	case submit.TimedOut:
		return http.StatusGatewayTimeout
	case submit.Rejected:
		return http.StatusBadGateway
	}
	switch {
	case !res.OK():
		return http.StatusBadGateway
	case res.Outcome.Simulated, res.Confirmation != nil:
		return http.StatusOK
	}
	return http.StatusAccepted
}

func readStatus(err error) int {
	if oracle.IsNoEndpoint(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func recordID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a non-negative integer"})
		return 0, false
	}
	return id, true
}

func (s *Server) Record(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	rec, err := s.backend.Record(c.Request.Context(), id)
	if err != nil {
		c.JSON(readStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Approvals reports the multisig state of a record and, with ?voter=, one
// address's standing on it.
func (s *Server) Approvals(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	voter := c.Query("voter")
	if voter != "" && !common.IsHexAddress(voter) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "voter must be a hex address"})
		return
	}
	st, err := s.backend.Approvals(c.Request.Context(), id)
	if err != nil {
		c.JSON(readStatus(err), gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"approval": st}
	if voter != "" {
		v, err := s.backend.Vote(c.Request.Context(), id, common.HexToAddress(voter))
		if err != nil {
			c.JSON(readStatus(err), gin.H{"error": err.Error()})
			return
		}
		resp["vote"] = v
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Governance(c *gin.Context) {
	g, err := s.backend.Governance(c.Request.Context())
	if err != nil {
		c.JSON(readStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) Recent(c *gin.Context) {
	n := defaultRecent
	if v := c.Query("recent"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "recent must be a positive integer"})
			return
		}
		n = min(p, maxRecent)
	}
	recs, err := s.backend.Recent(c.Request.Context(), n)
	if err != nil && len(recs) == 0 {
		c.JSON(readStatus(err), gin.H{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []ledger.Record{}
	}
	resp := gin.H{"records": recs}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Content(c *gin.Context) {
	if s.content == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "content gateway not configured"})
		return
	}
	var doc json.RawMessage
	err := s.content.Fetch(c.Request.Context(), c.Param("cid"), &doc)
	var se *content.StatusError
	switch {
	case err == nil:
		c.Data(http.StatusOK, "application/json", doc)
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (s *Server) ContentExists(c *gin.Context) {
	if s.content == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	ok, err := s.content.Exists(c.Request.Context(), c.Param("cid"))
	switch {
	case err != nil:
		c.Status(http.StatusBadGateway)
	case ok:
		c.Status(http.StatusOK)
	default:
		c.Status(http.StatusNotFound)
	}
}
