package api

import (
	"github.com/starford/qrhub/internal/models"
	"github.com/starford/qrhub/internal/workflow"
)

// FieldInfo describes one input of a kind.
type FieldInfo struct {
	Name     string `json:"name" example:"upiId" validate:"required"`
	Required bool   `json:"required"`
}

// KindInfo describes a QR kind and its inputs.
type KindInfo struct {
	Kind   models.Kind `json:"kind" example:"upi" validate:"required"`
	Fields []FieldInfo `json:"fields" validate:"required"`
}

// KindsResponse lists every supported kind.
type KindsResponse struct {
	Kinds []KindInfo `json:"kinds" validate:"required"`
}

// SelectKindRequest is the body of PUT /form/kind.
type SelectKindRequest struct {
	Kind models.Kind `json:"kind" example:"wifi" validate:"required"`
}

// GenerateRequest is the optional body of POST /generate. With a kind the
// form is replaced; with only fields they are merged into the current form.
type GenerateRequest struct {
	Kind   models.Kind   `json:"kind,omitempty" example:"text"`
	Fields models.Fields `json:"fields,omitempty"`
}

// BlurResponse carries the inline message for a field the user left.
type BlurResponse struct {
	Field   string `json:"field" example:"ssid" validate:"required"`
	Message string `json:"message" example:"SSID is required."`
}

// FormResponse is the form state.
type FormResponse = workflow.Form

// DisplayResponse is the displayed image.
type DisplayResponse = workflow.Display

// HistoryResponse wraps the history list, newest first.
type HistoryResponse struct {
	Records []models.Record `json:"records" validate:"required"`
	Total   int             `json:"total" example:"3" validate:"required"`
}

// ImportResponse is returned after a successful import.
type ImportResponse struct {
	Count int `json:"count" example:"10" validate:"required"`
}

// ThemeRequest is the body of PUT /theme and the response of GET /theme.
type ThemeRequest struct {
	Theme string `json:"theme" example:"dark" validate:"required"`
}

// NoticesResponse lists pending user-visible notices.
type NoticesResponse struct {
	Notices []string `json:"notices" validate:"required"`
}
