// Package api exposes HTTP triggers for the sync workflows. Each resource
// maps to a fixed workflow id, so a trigger for a resource already being
// synced joins the open run.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/records"
	"github.com/yourorg/procurement-sync/internal/types"
	"github.com/yourorg/procurement-sync/internal/workflow"
)

var (
	uasgRe = regexp.MustCompile(`^\d{6}$`)
	brt    = time.FixedZone("BRT", -3*60*60)
)

type Handler struct {
	engine Engine
	log    *zap.Logger
	now    func() time.Time
}

func NewHandler(engine Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: engine, log: log, now: time.Now}
}

// Router builds the gin engine with CORS, request ids and the v1 routes.
func Router(h *Handler, allowOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), h.accessLog())
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
	}))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/api/v1")
	{
		v1.POST("/sync/contracts/:uasg", h.SyncContracts)
		v1.POST("/sync/contracts/:uasg/:id/children", h.SyncChildren)
		v1.POST("/sync/pncp", h.SyncPNCP)
		v1.POST("/sync/inlabs/:date", h.SyncInlabs)
		v1.GET("/workflows/:id/status", h.GetWorkflowStatus)
	}
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")))
	}
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// workflowID is the resource's fixed id. Dry runs get a unique suffix so
// they never join a real run.
func workflowID(dryRun bool, parts ...string) string {
	id := strings.Join(parts, "-")
	if dryRun {
		id += "-dry-" + uuid.NewString()
	}
	return id
}

func (h *Handler) start(c *gin.Context, id string, wf any, params any) {
	started, err := h.engine.Start(c.Request.Context(), id, wf, params)
	if err != nil {
		h.log.Error("workflow start failed", zap.String("workflow_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start workflow: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, started)
}

type contractsRequest struct {
	DryRun       bool `json:"dry_run"`
	WithChildren bool `json:"with_children"`
}

// SyncContracts syncs one purchasing unit's contracts.
func (h *Handler) SyncContracts(c *gin.Context) {
	uasg := c.Param("uasg")
	if !uasgRe.MatchString(uasg) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "UASG must be six digits"})
		return
	}
	var req contractsRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.start(c, workflowID(req.DryRun, "contracts", uasg), workflow.ContractsSyncWorkflow, types.ContractsParams{
		UASGs:        []string{uasg},
		DryRun:       req.DryRun,
		WithChildren: req.WithChildren,
	})
}

type childrenRequest struct {
	Kinds  []string `json:"kinds"`
	DryRun bool     `json:"dry_run"`
}

// SyncChildren refreshes one contract's child datasets.
func (h *Handler) SyncChildren(c *gin.Context) {
	uasg := c.Param("uasg")
	if !uasgRe.MatchString(uasg) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "UASG must be six digits"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid contract ID"})
		return
	}
	var req childrenRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, k := range req.Kinds {
		if _, err := records.ParseChildKind(k); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	h.start(c, workflowID(req.DryRun, "contract-children", uasg, strconv.FormatInt(id, 10)), workflow.ContractChildrenWorkflow, types.ChildrenParams{
		UASG:        uasg,
		ContractIDs: []int64{id},
		Kinds:       req.Kinds,
		DryRun:      req.DryRun,
	})
}

// SyncPNCP runs the three PNCP stages over a publication window. Without a
// window it covers yesterday, Brasília time.
func (h *Handler) SyncPNCP(c *gin.Context) {
	var p types.PNCPParams
	if err := bindOptional(c, &p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.From == "" {
		p.From = h.now().In(brt).AddDate(0, 0, -1).Format(types.DayLayout)
	}
	if p.To == "" {
		p.To = p.From
	}
	if _, _, err := p.Window(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must not be negative"})
		return
	}
	h.start(c, workflowID(p.DryRun, "pncp", p.Scope()), workflow.PNCPSyncWorkflow, p)
}

type inlabsRequest struct {
	Sections []string `json:"sections"`
	DryRun   bool     `json:"dry_run"`
}

// SyncInlabs loads one gazette edition.
func (h *Handler) SyncInlabs(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse(types.DayLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("date must be %s", types.DayLayout)})
		return
	}
	var req inlabsRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for i, s := range req.Sections {
		req.Sections[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	h.start(c, workflowID(req.DryRun, "inlabs", date), workflow.InlabsSyncWorkflow, types.InlabsParams{
		Date:     date,
		Sections: req.Sections,
		DryRun:   req.DryRun,
	})
}

// GetWorkflowStatus reports a workflow's state and, once closed, its result.
func (h *Handler) GetWorkflowStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Workflow ID is required"})
		return
	}
	st, err := h.engine.Status(c.Request.Context(), id)
	if err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Workflow not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to describe workflow: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// ErrNotFound is returned by engines for unknown workflow ids.
var ErrNotFound = errors.New("workflow not found")

func isNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	// serviceerror.NotFound from Temporal.
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
