package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/application/service"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	domainwf "github.com/garyjia/expense-reconciler/internal/domain/workflow"
)

// Actor headers. Authentication happens upstream; the core only records who acted.
const (
	ActorHeader     = "X-Actor-ID"
	ActorNameHeader = "X-Actor-Name"
)

const actorKey = "actor"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// CreateReimbursementRequest is the body of POST /api/reimbursements
type CreateReimbursementRequest struct {
	InvoiceNumber string `json:"invoice_number" binding:"required"`
}

// ListRequest represents query parameters for listing
type ListRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// ForceStatusRequest is the body of POST /api/reimbursements/:id/force-status
type ForceStatusRequest struct {
	Status entity.ReimbursementStatus `json:"status" binding:"required"`
}

// ExternalStatusRequest is the body of POST /api/reimbursements/:id/external-status
type ExternalStatusRequest struct {
	Status string `json:"status"`
}

// TransitionRequest is the body of POST /api/work-orders/:id/transition
type TransitionRequest struct {
	Trigger string `json:"trigger" binding:"required"`
}

// OpinionRequest is the body of POST /api/work-orders/:id/opinion
type OpinionRequest struct {
	Opinion string `json:"opinion" binding:"required"`
}

// AssociateRequest is the optional body of PUT /api/work-orders/:id/line-items/:lineItemID
type AssociateRequest struct {
	Note string `json:"note"`
}

// StateResponse reports the status an operation left an entity in
type StateResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// CanCloseResponse is returned by GET /api/reimbursements/:id/can-close
type CanCloseResponse struct {
	CanClose    bool    `json:"can_close"`
	BlockingIDs []int64 `json:"blocking_ids"`
}

// requireActor rejects mutating requests that carry no actor and stores the
// actor in the gin context.
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := entity.Actor{
			ID:   strings.TrimSpace(c.GetHeader(ActorHeader)),
			Name: strings.TrimSpace(c.GetHeader(ActorNameHeader)),
		}
		if actor.ID == "" && c.Request.Method != http.MethodGet {
			c.AbortWithStatusJSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   ActorHeader + " header is required",
			})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) entity.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(entity.Actor); ok {
			return actor
		}
	}
	return entity.Actor{}
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	code := http.StatusOK
	if h.services.Health != nil {
		healthy, components := h.services.Health(c.Request.Context())
		response.Components = components
		if !healthy {
			response.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, Response{
		Success: code == http.StatusOK,
		Data:    response,
	})
}

// CreateReimbursement handles POST /api/reimbursements
func (h *Handlers) CreateReimbursement(c *gin.Context) {
	var req CreateReimbursementRequest
	if !h.bind(c, &req) {
		return
	}

	r, err := h.services.Reimbursement.Create(c.Request.Context(), req.InvoiceNumber)
	if err != nil {
		h.fail(c, "Failed to create reimbursement", err, "invoice_number", req.InvoiceNumber)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: r})
}

// ListReimbursements handles GET /api/reimbursements
func (h *Handlers) ListReimbursements(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}

	// Set defaults
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	list, err := h.services.Reimbursement.List(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, "Failed to list reimbursements", err)
		return
	}
	if list == nil {
		list = []*entity.Reimbursement{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: list})
}

// GetReimbursement handles GET /api/reimbursements/:id
func (h *Handlers) GetReimbursement(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	summary, err := h.services.Reimbursement.Summary(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get reimbursement", err, "reimbursement_id", id)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// CanClose handles GET /api/reimbursements/:id/can-close
func (h *Handlers) CanClose(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	canClose, blocking, err := h.services.Resolver.CanClose(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to evaluate close", err, "reimbursement_id", id)
		return
	}
	if blocking == nil {
		blocking = []int64{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    CanCloseResponse{CanClose: canClose, BlockingIDs: blocking},
	})
}

// AddLineItem handles POST /api/reimbursements/:id/line-items
func (h *Handlers) AddLineItem(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req service.CreateLineItemInput
	if !h.bind(c, &req) {
		return
	}

	item, err := h.services.Reimbursement.AddLineItem(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, "Failed to add line item", err, "reimbursement_id", id, "external_id", req.ExternalID)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: item})
}

// CloseReimbursement handles POST /api/reimbursements/:id/close
func (h *Handlers) CloseReimbursement(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.services.Resolver.Close(c.Request.Context(), id, actorFrom(c)); err != nil {
		h.fail(c, "Failed to close reimbursement", err, "reimbursement_id", id)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    StateResponse{ID: id, Status: string(entity.ReimbursementClosed)},
	})
}

// ForceStatus handles POST /api/reimbursements/:id/force-status
func (h *Handlers) ForceStatus(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req ForceStatusRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.services.Resolver.ForceStatus(c.Request.Context(), id, req.Status, actorFrom(c)); err != nil {
		h.fail(c, "Failed to force status", err, "reimbursement_id", id, "status", req.Status)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    StateResponse{ID: id, Status: string(req.Status)},
	})
}

// ResetOverride handles POST /api/reimbursements/:id/reset-override
func (h *Handlers) ResetOverride(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	status, err := h.services.Resolver.ResetOverride(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.fail(c, "Failed to reset override", err, "reimbursement_id", id)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    StateResponse{ID: id, Status: string(status)},
	})
}

// IngestExternalStatus handles POST /api/reimbursements/:id/external-status
func (h *Handlers) IngestExternalStatus(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req ExternalStatusRequest
	if !h.bind(c, &req) {
		return
	}

	status, err := h.services.Resolver.IngestExternalStatus(c.Request.Context(), id, req.Status, actorFrom(c))
	if err != nil {
		h.fail(c, "Failed to ingest external status", err, "reimbursement_id", id)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    StateResponse{ID: id, Status: string(status)},
	})
}

// ImportStatusSheet handles POST /api/status-imports with a multipart
// "file" field holding the upstream XLSX export and an optional "sheet"
func (h *Handlers) ImportStatusSheet(c *gin.Context) {
	if h.services.StatusImport == nil || h.services.OpenFeed == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "status import is not configured"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "file is required"})
		return
	}

	f, err := header.Open()
	if err != nil {
		h.fail(c, "Failed to open upload", err, "filename", header.Filename)
		return
	}
	defer f.Close()

	feed := h.services.OpenFeed(f, c.PostForm("sheet"))
	report, err := h.services.StatusImport.Import(c.Request.Context(), feed, actorFrom(c))
	if err != nil {
		h.logger.Error("Status import failed", "filename", header.Filename, "error", err)
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	h.logger.Info("Status sheet imported",
		"filename", header.Filename,
		"total", report.Total,
		"applied", report.Applied,
		"failed", len(report.Failed),
	)
	c.JSON(http.StatusOK, Response{Success: true, Data: report})
}

// CreateWorkOrder handles POST /api/work-orders
func (h *Handlers) CreateWorkOrder(c *gin.Context) {
	var req service.CreateWorkOrderInput
	if !h.bind(c, &req) {
		return
	}

	wo, err := h.services.WorkOrder.Create(c.Request.Context(), req, actorFrom(c))
	if err != nil {
		h.fail(c, "Failed to create work order", err, "reimbursement_id", req.ReimbursementID, "kind", req.Kind)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: wo})
}

// GetWorkOrder handles GET /api/work-orders/:id
func (h *Handlers) GetWorkOrder(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	wo, err := h.services.WorkOrder.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get work order", err, "work_order_id", id)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: wo})
}

// DestroyWorkOrder handles DELETE /api/work-orders/:id
func (h *Handlers) DestroyWorkOrder(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.services.WorkOrder.Destroy(c.Request.Context(), id, actorFrom(c)); err != nil {
		h.fail(c, "Failed to destroy work order", err, "work_order_id", id)
		return
	}

	c.Status(http.StatusNoContent)
}

// TransitionWorkOrder handles POST /api/work-orders/:id/transition
func (h *Handlers) TransitionWorkOrder(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if !h.bind(c, &req) {
		return
	}

	trigger := domainwf.Trigger(strings.ToUpper(strings.TrimSpace(req.Trigger)))
	if !trigger.IsValid() {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "unknown trigger " + req.Trigger})
		return
	}

	state, err := h.services.WorkOrder.Transition(c.Request.Context(), id, trigger, actorFrom(c))
	if err != nil {
		h.fail(c, "Failed to transition work order", err, "work_order_id", id, "trigger", trigger)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    StateResponse{ID: id, Status: string(state)},
	})
}

// SetOpinion handles POST /api/work-orders/:id/opinion
func (h *Handlers) SetOpinion(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req OpinionRequest
	if !h.bind(c, &req) {
		return
	}

	state, err := h.services.WorkOrder.SetOpinion(c.Request.Context(), id, entity.ParseOpinion(req.Opinion), actorFrom(c))
	if err != nil {
		h.fail(c, "Failed to set opinion", err, "work_order_id", id)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    StateResponse{ID: id, Status: string(state)},
	})
}

// AssociateLineItem handles PUT /api/work-orders/:id/line-items/:lineItemID
func (h *Handlers) AssociateLineItem(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	lineItemID, ok := h.pathID(c, "lineItemID")
	if !ok {
		return
	}

	var req AssociateRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	if err := h.services.WorkOrder.Associate(c.Request.Context(), id, lineItemID, req.Note, actorFrom(c)); err != nil {
		h.fail(c, "Failed to associate line item", err, "work_order_id", id, "line_item_id", lineItemID)
		return
	}

	c.Status(http.StatusNoContent)
}

// DisassociateLineItem handles DELETE /api/work-orders/:id/line-items/:lineItemID
func (h *Handlers) DisassociateLineItem(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	lineItemID, ok := h.pathID(c, "lineItemID")
	if !ok {
		return
	}

	if err := h.services.WorkOrder.Disassociate(c.Request.Context(), id, lineItemID, actorFrom(c)); err != nil {
		h.fail(c, "Failed to disassociate line item", err, "work_order_id", id, "line_item_id", lineItemID)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handlers) pathID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.logger.Error("Invalid path ID", "param", name, "value", raw)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid " + name,
		})
		return 0, false
	}
	return id, true
}

func (h *Handlers) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Error("Invalid request body", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// fail maps service errors to HTTP status codes
func (h *Handlers) fail(c *gin.Context, msg string, err error, keysAndValues ...interface{}) {
	code := statusFor(err)
	h.logger.Error(msg, append(keysAndValues, "status", code, "error", err)...)

	resp := Response{Success: false, Error: err.Error()}

	var cannotClose *service.CannotCloseError
	if errors.As(err, &cannotClose) {
		ids := cannotClose.BlockingIDs
		if ids == nil {
			ids = []int64{}
		}
		resp.Data = gin.H{"blocking_ids": ids}
	}
	if code == http.StatusInternalServerError {
		resp.Error = "internal error"
	}

	c.JSON(code, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrCannotClose):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrReimbursementClosed),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, port.ErrLockNotObtained):
		return http.StatusConflict
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrLineItemMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
