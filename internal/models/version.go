package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type VersionStatus string

const (
	VersionStatusProcessing VersionStatus = "processing"
	VersionStatusReady      VersionStatus = "ready"
	VersionStatusFailed     VersionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s VersionStatus) Terminal() bool {
	return s == VersionStatusReady || s == VersionStatusFailed
}

func (s VersionStatus) Valid() bool {
	switch s {
	case VersionStatusProcessing, VersionStatusReady, VersionStatusFailed:
		return true
	}
	return false
}

type Version struct {
	ID                 uuid.UUID
	PrototypeID        uuid.UUID
	VersionNumber      int
	Status             VersionStatus
	Title              sql.NullString
	Description        sql.NullString
	DesignReferenceURL sql.NullString
	PreviewPath        sql.NullString
	FilesBasePath      sql.NullString
	UploadPath         sql.NullString
	ErrorMessage       sql.NullString
	CreatedBy          uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IngestTask is the unit of work handed from the upload request to the
// ingestion workers.
type IngestTask struct {
	VersionID     uuid.UUID `json:"version_id"`
	PrototypeID   uuid.UUID `json:"prototype_id"`
	VersionNumber int       `json:"version_number"`
	UploadPath    string    `json:"upload_path"`
}
