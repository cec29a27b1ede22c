package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Prototype struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Name       string
	PreviewURL sql.NullString
	FilesURL   sql.NullString
	CreatedAt  time.Time
}

// HasLegacyArtifact reports whether the pre-versioning upload path left
// something servable behind.
func (p *Prototype) HasLegacyArtifact() bool {
	return p.PreviewURL.Valid && p.PreviewURL.String != ""
}
