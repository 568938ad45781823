package model

import "time"

// Priority is a badge derived from how long a form has waited for approval.
type Priority string

// Priorities, lowest first.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AllPriorities lists priorities from lowest to highest.
var AllPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// PendingApprovalItem is a form waiting in the approval queue.
type PendingApprovalItem struct {
	ID              string         `json:"id"`
	FormType        FormType       `json:"formType"`
	LotID           string         `json:"lotId"`
	LotNumber       string         `json:"lotNumber,omitempty"`
	SubmittedBy     string         `json:"submittedBy"`
	SubmittedByName string         `json:"submittedByName"`
	SubmittedAt     time.Time      `json:"submittedAt"`
	Station         string         `json:"station"`
	Status          string         `json:"status"`
	Priority        Priority       `json:"priority"`
	AgeInMinutes    int            `json:"ageInMinutes"`
	FormData        map[string]any `json:"formData,omitempty"`
}

// QueueSummary counts the queue by urgency.
type QueueSummary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
}

// QueueFilter narrows the approval queue. Empty or "all" means no filter.
type QueueFilter struct {
	Type  string
	Stage string
}
