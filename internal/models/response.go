package models

import "time"

type PrototypeResponse struct {
	ID         string    `json:"prototype_id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	PreviewURL string    `json:"preview_url,omitempty"`
	FilesURL   string    `json:"files_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateVersionResponse struct {
	VersionID     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
	Status        string `json:"status"`
}

type VersionResponse struct {
	ID                 string    `json:"version_id"`
	PrototypeID        string    `json:"prototype_id"`
	VersionNumber      int       `json:"version_number"`
	Status             string    `json:"status"`
	Title              string    `json:"title,omitempty"`
	Description        string    `json:"description,omitempty"`
	DesignReferenceURL string    `json:"design_reference_url,omitempty"`
	PreviewPath        string    `json:"preview_path,omitempty"`
	FilesBasePath      string    `json:"files_base_path,omitempty"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	CreatedBy          string    `json:"created_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type VersionListResponse struct {
	Versions []VersionResponse `json:"versions"`
}

type VersionFilesResponse struct {
	VersionID string   `json:"version_id"`
	Files     []string `json:"files"`
}

// ServableResponse is the resolution result. VersionNumber and VersionID are
// null when a legacy artifact is served.
type ServableResponse struct {
	PrototypeID   string  `json:"prototype_id"`
	PreviewPath   string  `json:"preview_path"`
	FilesPath     string  `json:"files_path"`
	VersionNumber *int    `json:"version_number"`
	VersionID     *string `json:"version_id"`
	Source        string  `json:"source"`
}

type VersioningAccessResponse struct {
	IsEligible    bool `json:"is_eligible"`
	UIEnabled     bool `json:"ui_enabled"`
	UploadEnabled bool `json:"upload_enabled"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// NewVersionResponse flattens the nullable columns for the API.
func NewVersionResponse(v *Version) VersionResponse {
	return VersionResponse{
		ID:                 v.ID.String(),
		PrototypeID:        v.PrototypeID.String(),
		VersionNumber:      v.VersionNumber,
		Status:             string(v.Status),
		Title:              v.Title.String,
		Description:        v.Description.String,
		DesignReferenceURL: v.DesignReferenceURL.String,
		PreviewPath:        v.PreviewPath.String,
		FilesBasePath:      v.FilesBasePath.String,
		ErrorMessage:       v.ErrorMessage.String,
		CreatedBy:          v.CreatedBy.String(),
		CreatedAt:          v.CreatedAt,
		UpdatedAt:          v.UpdatedAt,
	}
}

func NewPrototypeResponse(p *Prototype) PrototypeResponse {
	return PrototypeResponse{
		ID:         p.ID.String(),
		OwnerID:    p.OwnerID.String(),
		Name:       p.Name,
		PreviewURL: p.PreviewURL.String,
		FilesURL:   p.FilesURL.String,
		CreatedAt:  p.CreatedAt,
	}
}
