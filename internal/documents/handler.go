package documents

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docmanager-backend/internal/extract"
	"docmanager-backend/internal/shared/server/middleware"
	"docmanager-backend/internal/shared/server/respond"
)

const defaultMaxUploadSize = 10 << 20 // 10MB

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc            *Service
	MaxUploadBytes int64
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadSize
	}
	return &Handler{Svc: svc, MaxUploadBytes: maxUploadBytes}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.create)
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
	rg.PUT("/documents/:id", h.update)
	rg.DELETE("/documents/:id", h.delete)

	rg.POST("/documents/:id/file", h.uploadFile)
	rg.DELETE("/documents/:id/file", h.deleteAttachment)
	rg.GET("/documents/:id/download", h.download)

	rg.POST("/documents/:id/ocr", h.processOcr)
	rg.GET("/documents/:id/ocr", h.ocrText)
}

// RegisterOcrRoutes attaches the aggregate OCR routes. They live on their own
// prefix so the router can rate-limit them separately.
func (h *Handler) RegisterOcrRoutes(rg *gin.RouterGroup) {
	rg.GET("/ocr/statistics", h.statistics)
	rg.POST("/ocr/batch", h.batchReprocess)
	rg.GET("/ocr/search", h.searchOcrText)
}

func (h *Handler) create(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)

	input, err := bindInput(c)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	file, closeFile, err := openUpload(c)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer closeFile()

	doc, err := h.Svc.Create(requestContext(c), userID, input, file, boolParam(c, "processOcr"))
	if err != nil {
		h.respondError(c, err, "failed to create document")
		return
	}
	respond.JSON(c, http.StatusCreated, toResponse(doc))
}

func (h *Handler) update(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)

	input, err := bindInput(c)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	file, closeFile, err := openUpload(c)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer closeFile()

	doc, err := h.Svc.Update(requestContext(c), userID, c.Param("id"), input, file, boolParam(c, "processOcr"))
	if err != nil {
		h.respondError(c, err, "failed to update document")
		return
	}
	respond.JSON(c, http.StatusOK, toResponse(doc))
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	doc, err := h.Svc.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to fetch document")
		return
	}
	respond.JSON(c, http.StatusOK, toResponse(doc))
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	if err := h.Svc.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondError(c, err, "failed to delete document")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) uploadFile(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)

	file, closeFile, err := openUpload(c)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	if file == nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	defer closeFile()

	doc, err := h.Svc.UploadFile(requestContext(c), userID, c.Param("id"), *file, boolParam(c, "processOcr"))
	if err != nil {
		h.respondError(c, err, "failed to upload file")
		return
	}
	respond.JSON(c, http.StatusOK, toResponse(doc))
}

func (h *Handler) deleteAttachment(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	doc, err := h.Svc.DeleteAttachment(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to delete file")
		return
	}
	respond.JSON(c, http.StatusOK, toResponse(doc))
}

func (h *Handler) download(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	att, rc, err := h.Svc.Download(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to download file")
		return
	}
	defer rc.Close()

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.OriginalFilename))
	c.DataFromReader(http.StatusOK, att.SizeBytes, contentType, rc, nil)
}

func (h *Handler) processOcr(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	doc, err := h.Svc.ProcessOcr(requestContext(c), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "ocr processing failed")
		return
	}
	respond.JSON(c, http.StatusOK, toOcrTextResponse(doc))
}

func (h *Handler) ocrText(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	doc, err := h.Svc.OcrText(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to fetch ocr text")
		return
	}
	respond.JSON(c, http.StatusOK, toOcrTextResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	limit, offset := pageParams(c)

	var (
		docs []Document
		err  error
	)
	if boolParam(c, "processed") {
		docs, err = h.Svc.ListProcessed(c.Request.Context(), userID, limit, offset)
	} else {
		docs, err = h.Svc.List(c.Request.Context(), userID, c.Query("search"), limit, offset)
	}
	if err != nil {
		h.respondError(c, err, "failed to list documents")
		return
	}
	respond.JSON(c, http.StatusOK, toResponses(docs))
}

func (h *Handler) searchOcrText(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	limit, offset := pageParams(c)

	docs, err := h.Svc.SearchOcrText(c.Request.Context(), userID, c.Query("q"), limit, offset)
	if err != nil {
		h.respondError(c, err, "failed to search documents")
		return
	}
	respond.JSON(c, http.StatusOK, toResponses(docs))
}

func (h *Handler) statistics(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	stats, err := h.Svc.Stats(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err, "failed to compute statistics")
		return
	}
	respond.JSON(c, http.StatusOK, StatisticsResponse{
		TotalDocuments:      stats.Total,
		ProcessedDocuments:  stats.Processed,
		PendingDocuments:    stats.PendingWithFile,
		ProcessedPercentage: stats.ProcessedPercentage,
	})
}

func (h *Handler) batchReprocess(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	scheduled, err := h.Svc.BatchReprocess(requestContext(c), userID)
	if err != nil {
		h.respondError(c, err, "failed to schedule batch")
		return
	}
	respond.JSON(c, http.StatusAccepted, BatchResponse{Scheduled: scheduled})
}

func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNoAttachment):
		respond.Error(c, http.StatusConflict, "no_attachment", "document has no attachment", nil)
	case errors.Is(err, ErrUnsupportedMedia):
		respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_media", "content type not supported for ocr", nil)
	case extract.IsExtractionError(err):
		respond.Error(c, http.StatusInternalServerError, "extraction_failed", "ocr extraction failed", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

// bindInput reads the document metadata fields from the multipart form.
func bindInput(c *gin.Context) (DocumentInput, error) {
	input := DocumentInput{
		Title:       c.PostForm("title"),
		Number:      c.PostForm("number"),
		Description: c.PostForm("description"),
	}
	if raw := strings.TrimSpace(c.PostForm("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return DocumentInput{}, fmt.Errorf("date must be YYYY-MM-DD")
		}
		input.Date = &parsed
	}
	return input, nil
}

// openUpload returns the optional multipart file. A request without a file
// part yields a nil upload, not an error.
func openUpload(c *gin.Context) (*FileUpload, func(), error) {
	noop := func() {}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, noop, nil
		}
		return nil, noop, err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, noop, err
	}
	return &FileUpload{
		FileName:    fileHeader.Filename,
		ContentType: contentTypeOf(fileHeader),
		Reader:      file,
	}, func() { file.Close() }, nil
}

func contentTypeOf(header *multipart.FileHeader) string {
	return strings.TrimSpace(header.Header.Get("Content-Type"))
}

// requestContext carries the request ID into the service layer so queue
// messages and job logs can be correlated back to the originating request.
func requestContext(c *gin.Context) context.Context {
	return WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}

func boolParam(c *gin.Context, name string) bool {
	raw := c.Query(name)
	if raw == "" {
		raw = c.PostForm(name)
	}
	val, err := strconv.ParseBool(raw)
	return err == nil && val
}

func pageParams(c *gin.Context) (int, int) {
	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if limit > 100 {
		limit = 100
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
