package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/middleware"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/services"
)

// multipartOverhead covers the text fields and part headers that travel
// with the archive.
const multipartOverhead = 1 << 20

type VersionSubmitter interface {
	Submit(ctx context.Context, in services.SubmitInput) (*models.Version, error)
}

type UploadHandler struct {
	submitter       VersionSubmitter
	maxArchiveBytes int64
}

func NewUploadHandler(submitter VersionSubmitter, maxArchiveBytes int64) *UploadHandler {
	return &UploadHandler{
		submitter:       submitter,
		maxArchiveBytes: maxArchiveBytes,
	}
}

// CreateVersion accepts a zipped static site in the "archive" form field and
// answers 202 once the ingestion task is queued.
func (h *UploadHandler) CreateVersion(c *gin.Context) {
	prototypeID, err := uuidParam(c, "prototype_id")
	if err != nil {
		respondError(c, err, "")
		return
	}

	if h.maxArchiveBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxArchiveBytes+multipartOverhead)
	}

	var form models.CreateVersionForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, uploadReadError(err), "")
		return
	}

	data, err := h.readArchive(c)
	if err != nil {
		respondError(c, err, "failed to read the upload")
		return
	}

	v, err := h.submitter.Submit(c.Request.Context(), services.SubmitInput{
		CreateVersionInput: services.CreateVersionInput{
			PrototypeID:        prototypeID,
			ActorID:            middleware.UserID(c),
			ActorIsAdmin:       middleware.IsAdmin(c),
			Title:              form.Title,
			Description:        form.Description,
			DesignReferenceURL: form.DesignReferenceURL,
		},
		Archive: data,
	})
	if err != nil {
		respondError(c, err, "failed to create version")
		return
	}

	c.JSON(http.StatusAccepted, models.CreateVersionResponse{
		VersionID:     v.ID.String(),
		VersionNumber: v.VersionNumber,
		Status:        string(v.Status),
	})
}

// readArchive reads at most one byte past the limit so the submission
// service can report an oversized archive with a field error.
func (h *UploadHandler) readArchive(c *gin.Context) ([]byte, error) {
	header, err := c.FormFile("archive")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, apperr.ValidationFields("archive is required", map[string]string{"archive": "is required"})
		}
		return nil, uploadReadError(err)
	}

	f, err := header.Open()
	if err != nil {
		return nil, apperr.Internal("failed to read the upload", err)
	}
	defer f.Close()

	var r io.Reader = f
	if h.maxArchiveBytes > 0 {
		r = io.LimitReader(f, h.maxArchiveBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.Internal("failed to read the upload", err)
	}
	return data, nil
}

func uploadReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperr.ValidationFields("archive is too large", map[string]string{"archive": "exceeds the upload size limit"})
	}
	return apperr.Validation("failed to parse multipart form")
}
