package detections

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"farmassist-backend/internal/provider"
	"farmassist-backend/internal/shared/server/middleware"
	"farmassist-backend/internal/shared/server/respond"
)

// MaxImageBytes is the upload size cap for analysis images.
const MaxImageBytes = 10 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Handler wires HTTP handlers to the detections service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches detection routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/detections", h.analyze)
	rg.GET("/detections", h.list)
	rg.GET("/detections/stats", h.stats)
	rg.GET("/detections/:id", h.get)
	rg.POST("/detections/:id/retry", h.retry)
	rg.DELETE("/detections/:id", h.delete)
}

func (h *Handler) analyze(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeNoFileUploaded, "image file is required", nil)
		return
	}
	if fileHeader.Size > MaxImageBytes {
		respond.Error(c, http.StatusBadRequest, ErrorCodeFileTooLarge, "image exceeds the 10MB limit", nil)
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !allowedImageTypes[contentType] {
		respond.Error(c, http.StatusBadRequest, ErrorCodeInvalidFileType, "only JPEG, PNG and WebP images are supported", gin.H{
			"contentType": contentType,
		})
		return
	}

	preferred := c.PostForm("provider")
	if preferred != "" && !provider.Known(preferred) {
		respond.Error(c, http.StatusBadRequest, ErrorCodeInvalidProvider, "unknown analysis provider", gin.H{
			"provider": preferred,
		})
		return
	}

	loc := provider.Location{
		District: strings.TrimSpace(c.PostForm("district")),
		State:    strings.TrimSpace(c.PostForm("state")),
	}
	if v := c.PostForm("latitude"); v != "" {
		if lat, err := strconv.ParseFloat(v, 64); err == nil {
			loc.Latitude = &lat
		}
	}
	if v := c.PostForm("longitude"); v != "" {
		if lon, err := strconv.ParseFloat(v, 64); err == nil {
			loc.Longitude = &lon
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to read uploaded image", nil)
		return
	}
	defer file.Close()

	analysis, err := h.Svc.AnalyzeImage(c.Request.Context(), AnalyzeInput{
		UserID:   userID,
		FileName: fileHeader.Filename,
		File:     file,
		CropType: strings.TrimSpace(c.PostForm("crop")),
		Location: loc,
		Provider: preferred,
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeAnalysisFailed, "failed to run analysis", nil)
		return
	}

	// The record is returned even when the pipeline failed; the caller
	// inspects status and error to decide whether to retry.
	respond.JSON(c, http.StatusCreated, gin.H{
		"success":  analysis.Status == StatusCompleted,
		"analysis": analysis,
	})
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	analysisID := c.Param("id")

	analysis, err := h.Svc.Get(c.Request.Context(), userID, analysisID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to fetch analysis", nil)
		}
		return
	}
	respond.OK(c, gin.H{"analysis": analysis})
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	result, err := h.Svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to list analyses", nil)
		return
	}
	respond.OK(c, result)
}

func (h *Handler) stats(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	stats, err := h.Svc.Stats(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to compute stats", nil)
		return
	}
	respond.OK(c, stats)
}

func (h *Handler) retry(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	analysisID := c.Param("id")

	analysis, err := h.Svc.Retry(c.Request.Context(), userID, analysisID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "analysis not found", nil)
		case errors.Is(err, ErrRetryNotAllowed):
			respond.Error(c, http.StatusConflict, ErrorCodeInvalidStatus, "only failed analyses can be retried", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to retry analysis", nil)
		}
		return
	}
	respond.OK(c, gin.H{
		"success":  analysis.Status == StatusCompleted,
		"analysis": analysis,
	})
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	analysisID := c.Param("id")

	if err := h.Svc.Delete(c.Request.Context(), userID, analysisID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to delete analysis", nil)
		}
		return
	}
	respond.OK(c, gin.H{"success": true, "deleted": analysisID})
}
