package dtos

import (
	"time"

	"infinite-experiment/tourdesk/internal/models/entities"
)

type APIResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ResponseTime string `json:"response_time"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// GroupResponse is one display group with its member records
type GroupResponse struct {
	Key       string            `json:"key"`
	Date      string            `json:"date"`
	Title     string            `json:"title"`
	OrderID   string            `json:"order_id,omitempty"`
	Completed bool              `json:"completed"`
	Members   []entities.Record `json:"members"`
}

// GroupsResponse is a grouped view of one collection
type GroupsResponse struct {
	Kind    string          `json:"kind"`
	Tab     string          `json:"tab"`
	Version uint64          `json:"version"`
	Live    bool            `json:"live"`
	Groups  []GroupResponse `json:"groups"`
}

type ExportLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ResyncKindResult struct {
	Kind    string `json:"kind"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

type ResyncResponse struct {
	Results  []ResyncKindResult `json:"results"`
	Duration string             `json:"duration"`
}

type CapabilityResetResponse struct {
	Cleared int `json:"cleared"`
}

// LiveMessage is pushed to websocket clients
type LiveMessage struct {
	Type         string `json:"type"`
	Kind         string `json:"kind,omitempty"`
	Version      uint64 `json:"version,omitempty"`
	EntityID     string `json:"entity_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Notification any    `json:"notification,omitempty"`
}
