package api

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"medirag/loader/service"
)

type UploadHandler struct {
	svc *service.Service
}

func NewUploadHandler(svc *service.Service) *UploadHandler {
	return &UploadHandler{
		svc: svc,
	}
}

// HandleUpload accepts one PDF, stores it in the source directory and kicks
// off a tracked background ingestion run. The response carries the job id;
// progress is polled via HandleUploadStatus.
func (h *UploadHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	filename := filepath.Base(fileHeader.Filename)
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return NewError(fiber.StatusBadRequest, "only PDF files are accepted")
	}
	if fileHeader.Size == 0 {
		return NewError(fiber.StatusBadRequest, "uploaded file is empty")
	}

	if err := h.svc.EnsureSourceDir(); err != nil {
		return err
	}
	path := filepath.Join(h.svc.SourceDir(), filename)
	if err := c.SaveFile(fileHeader, path); err != nil {
		return err
	}
	log.Printf("[UPLOAD] file saved to: %s", path)

	jobID := h.svc.IngestAsync(context.Background(), filename)
	return c.JSON(fiber.Map{
		"job_id":   jobID,
		"filename": filename,
		"status":   "processing",
	})
}

// HandleUploadStatus reports the state of one ingestion job.
func (h *UploadHandler) HandleUploadStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	job, ok := h.svc.Jobs().Get(id)
	if !ok {
		return ErrNotFound(id, "job")
	}
	return c.JSON(job)
}
