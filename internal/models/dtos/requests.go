package dtos

import "infinite-experiment/tourdesk/internal/models/entities"

// PatchRequest updates fields of one record
type PatchRequest struct {
	Fields entities.Patch `json:"fields"`
}

// CreateRequest inserts a record; the id is generated when omitted
type CreateRequest struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

type ExportLinkRequest struct {
	View   string `json:"view"`
	Format string `json:"format"`
	Tab    string `json:"tab"`
	Search string `json:"search"`
	Date   string `json:"date"`
}
