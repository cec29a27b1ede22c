package models

type CreatePrototypeRequest struct {
	Name       string `json:"name" binding:"required,max=120"`
	PreviewURL string `json:"preview_url" binding:"omitempty,url"`
	FilesURL   string `json:"files_url" binding:"omitempty,url"`
}

// CreateVersionForm carries the optional text fields sent alongside the
// archive in the multipart upload. Length and URL rules are enforced by the
// numbering service.
type CreateVersionForm struct {
	Title              string `form:"title"`
	Description        string `form:"description"`
	DesignReferenceURL string `form:"design_reference_url"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
