package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"

	"timelineboard/internal/apiclient"
	"timelineboard/internal/board"
	"timelineboard/internal/model"
	"timelineboard/internal/timeline"
	"timelineboard/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TimelineHandler struct {
	registry *board.Registry
	layout   timeline.LayoutConfig
	logger   *zap.Logger
}

func NewTimelineHandler(registry *board.Registry, layout timeline.LayoutConfig, logger *zap.Logger) *TimelineHandler {
	return &TimelineHandler{registry: registry, layout: layout, logger: logger}
}

type timelineResponse struct {
	ProjectID  int64          `json:"project_id"`
	Generation uint64         `json:"generation"`
	Modules    []model.Module `json:"modules"`
	Chart      timeline.Chart `json:"chart"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// rowStatusRequest 按下标修改时必须带上 GET 返回的 generation
type rowStatusRequest struct {
	Status     string `json:"status" binding:"required"`
	Generation uint64 `json:"generation" binding:"required"`
}

type deleteRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}

// GetTimeline GET /api/dashboard/projects/:projectId/timeline
func (h *TimelineHandler) GetTimeline(c *gin.Context) {
	snap, layout, ok := h.load(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, timelineResponse{
		ProjectID:  snap.ProjectID,
		Generation: snap.Generation,
		Modules:    snap.Modules,
		Chart:      timeline.Layout(snap.Modules, layout),
	})
}

// GetTimelineSVG GET /api/dashboard/projects/:projectId/timeline.svg
func (h *TimelineHandler) GetTimelineSVG(c *gin.Context) {
	snap, layout, ok := h.load(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	chart := timeline.Layout(snap.Modules, layout)
	if err := timeline.RenderSVG(&buf, chart, snap.Modules); err != nil {
		h.log(c).Error("GetTimelineSVG: render failed", zap.Int64("project_id", snap.ProjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render timeline"})
		return
	}
	c.Data(http.StatusOK, "image/svg+xml", buf.Bytes())
}

// UpdateStatus PUT /api/dashboard/projects/:projectId/modules/:index/status
// 查询参数与 GET 相同，用来定位下标所在的列表；列表已变化时返回 409
func (h *TimelineHandler) UpdateStatus(c *gin.Context) {
	projectID, ok := h.projectID(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid row index"})
		return
	}
	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req rowStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status and generation are required"})
		return
	}

	log := h.log(c).With(
		zap.Int64("project_id", projectID),
		zap.Int("index", index),
		zap.Uint64("generation", req.Generation),
		zap.String("status", req.Status),
	)
	log.Info("UpdateStatus request received")

	view, _, err := h.registry.Open(c.Request.Context(), projectID, q)
	if err != nil {
		h.writeError(c, log, "UpdateStatus: failed to load timeline", err)
		return
	}

	m, err := view.SetStatus(c.Request.Context(), index, req.Generation, req.Status)
	if err != nil {
		h.writeError(c, log, "UpdateStatus: failed", err)
		return
	}

	code := http.StatusOK
	if m.Sync == model.SyncQueued {
		code = http.StatusAccepted
	}
	log.Info("UpdateStatus: success", zap.String("sync", string(m.Sync)))
	c.JSON(code, gin.H{"module": m})
}

// PatchDetailStatus PATCH /api/dashboard/projects/:projectId/details/:detailId/status
func (h *TimelineHandler) PatchDetailStatus(c *gin.Context) {
	projectID, ok := h.projectID(c)
	if !ok {
		return
	}
	detailID, err := strconv.ParseInt(c.Param("detailId"), 10, 64)
	if err != nil || detailID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid detail id"})
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	log := h.log(c).With(
		zap.Int64("project_id", projectID),
		zap.Int64("detail_id", detailID),
		zap.String("status", req.Status),
	)

	m, err := h.registry.PatchDetailStatus(c.Request.Context(), projectID, detailID, req.Status)
	if err != nil {
		h.writeError(c, log, "PatchDetailStatus: failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"module": m})
}

// DeleteDetails DELETE /api/dashboard/projects/:projectId/details
func (h *TimelineHandler) DeleteDetails(c *gin.Context) {
	projectID, ok := h.projectID(c)
	if !ok {
		return
	}

	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids must be a non-empty list"})
		return
	}

	result := h.registry.DeleteDetails(c.Request.Context(), projectID, req.IDs)

	code := http.StatusOK
	if !result.OK() {
		code = http.StatusMultiStatus
	}
	c.JSON(code, result)
}

// load 解析查询参数并返回当前列表；refresh=true 强制重新拉取
func (h *TimelineHandler) load(c *gin.Context) (board.Snapshot, timeline.LayoutConfig, bool) {
	projectID, ok := h.projectID(c)
	if !ok {
		return board.Snapshot{}, h.layout, false
	}

	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return board.Snapshot{}, h.layout, false
	}

	layout := h.layout
	if s := c.Query("scale"); s != "" {
		switch timeline.Scale(s) {
		case timeline.ScaleWeeks, timeline.ScaleDays:
			layout.Scale = timeline.Scale(s)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "scale must be weeks or days"})
			return board.Snapshot{}, h.layout, false
		}
	}

	var snap board.Snapshot
	if c.Query("refresh") == "true" {
		_, snap, err = h.registry.Refresh(c.Request.Context(), projectID, q)
	} else {
		_, snap, err = h.registry.Open(c.Request.Context(), projectID, q)
	}
	if err != nil {
		h.writeError(c, h.log(c).With(zap.Int64("project_id", projectID)), "GetTimeline: failed to load timeline", err)
		return board.Snapshot{}, h.layout, false
	}
	return snap, layout, true
}

func (h *TimelineHandler) projectID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("projectId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return 0, false
	}
	return id, true
}

func (h *TimelineHandler) log(c *gin.Context) *zap.Logger {
	return logger.WithTrace(c.Request.Context(), h.logger)
}

func parseQuery(c *gin.Context) (apiclient.Query, error) {
	q := apiclient.Query{Search: c.Query("search")}
	var err error
	if s := c.Query("page"); s != "" {
		if q.Page, err = strconv.Atoi(s); err != nil || q.Page < 1 {
			return q, errors.New("page must be a positive integer")
		}
	}
	if s := c.Query("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 1 {
			return q, errors.New("limit must be a positive integer")
		}
	}
	return q, nil
}

// writeError 把错误映射为 HTTP 状态码
func (h *TimelineHandler) writeError(c *gin.Context, log *zap.Logger, msg string, err error) {
	code, body := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error(msg, zap.Error(err))
	} else {
		log.Warn(msg, zap.Error(err))
	}
	c.JSON(code, body)
}

func statusFor(err error) (int, gin.H) {
	switch {
	case errors.Is(err, board.ErrRowNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	case errors.Is(err, board.ErrEditInFlight), errors.Is(err, board.ErrDuplicateEdit):
		return http.StatusConflict, gin.H{"error": err.Error()}
	case errors.Is(err, board.ErrStaleView):
		return http.StatusConflict, gin.H{"error": err.Error(), "reload": true}
	case errors.Is(err, board.ErrEmptyStatus):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, gin.H{"error": "backend timeout"}
	}

	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		body := gin.H{"error": apiErr.Error(), "kind": apiErr.Kind}
		switch apiErr.Kind {
		case apiclient.KindUnauthorized:
			return http.StatusUnauthorized, body
		case apiclient.KindNotFound:
			return http.StatusNotFound, body
		case apiclient.KindValidationFailed:
			return http.StatusUnprocessableEntity, body
		default:
			return http.StatusBadGateway, body
		}
	}
	return http.StatusInternalServerError, gin.H{"error": "internal error"}
}
