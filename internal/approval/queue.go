package approval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clamflow/clamflow-bff/model"
)

// ItemFromRecord maps a backend pending-form record to a queue item and
// derives its age and priority. Both camelCase and snake_case keys are read.
func ItemFromRecord(rec map[string]any, now time.Time) model.PendingApprovalItem {
	submitted := str(rec, "submittedAt", "submitted_at")
	created := str(rec, "createdAt", "created_at")

	age := AgeInMinutes(now, submitted, created)
	ts := submitted
	if ts == "" {
		ts = created
	}
	submittedAt, _ := ParseTimestamp(ts)

	formData, ok := rec["formData"].(map[string]any)
	if !ok {
		formData, ok = rec["form_data"].(map[string]any)
	}
	if !ok {
		formData = rec
	}

	return model.PendingApprovalItem{
		ID:              str(rec, "id"),
		FormType:        model.FormType(str(rec, "formType", "form_type")),
		LotID:           str(rec, "lotId", "lot_id"),
		LotNumber:       str(rec, "lotNumber", "lot_number"),
		SubmittedBy:     str(rec, "submittedBy", "submitted_by"),
		SubmittedByName: orDefault(str(rec, "submittedByName", "submitted_by_name"), "Unknown"),
		SubmittedAt:     submittedAt,
		Station:         orDefault(str(rec, "stationId", "station_id"), "Unknown"),
		Status:          str(rec, "status"),
		Priority:        Classify(age),
		AgeInMinutes:    age,
		FormData:        formData,
	}
}

// str returns the first non-empty value among keys, formatted as a string.
func str(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Visible reports whether a user with the given role spelling sees the item
// in their queue.
func Visible(item model.PendingApprovalItem, roleName string) bool {
	if isStationQA(roleName) {
		return true
	}
	switch model.ParseRole(roleName) {
	case model.RoleQCStaff:
		return item.Status == model.StagePendingQC
	case model.RoleProductionLead:
		return item.Status == model.StagePendingProductionLead && item.FormType == model.FormTypePPC
	case model.RoleQCLead:
		return (item.Status == model.StagePendingQCLead && item.FormType == model.FormTypeFP) ||
			item.FormType == model.FormTypeDepuration
	case model.RoleAdmin, model.RoleSuperAdmin:
		return true
	default:
		return false
	}
}

func isStationQA(roleName string) bool {
	key := strings.ToLower(strings.TrimSpace(roleName))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key) == "station_qa"
}

// Filter applies the type and stage filters, then role visibility.
func Filter(items []model.PendingApprovalItem, roleName string, f model.QueueFilter) []model.PendingApprovalItem {
	out := make([]model.PendingApprovalItem, 0, len(items))
	for _, it := range items {
		if f.Type != "" && f.Type != "all" && string(it.FormType) != f.Type {
			continue
		}
		if f.Stage != "" && f.Stage != "all" && it.Status != f.Stage {
			continue
		}
		if !Visible(it, roleName) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// SortOldestFirst orders items by wait time, longest first.
func SortOldestFirst(items []model.PendingApprovalItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].AgeInMinutes != items[j].AgeInMinutes {
			return items[i].AgeInMinutes > items[j].AgeInMinutes
		}
		return items[i].SubmittedAt.Before(items[j].SubmittedAt)
	})
}

// Summarize counts the queue by urgency.
func Summarize(items []model.PendingApprovalItem) model.QueueSummary {
	s := model.QueueSummary{Total: len(items)}
	for _, it := range items {
		switch it.Priority {
		case model.PriorityCritical:
			s.Critical++
		case model.PriorityHigh:
			s.High++
		}
	}
	return s
}

// CountByPriority counts items per priority label.
func CountByPriority(items []model.PendingApprovalItem) map[string]int {
	counts := make(map[string]int, len(model.AllPriorities))
	for _, it := range items {
		counts[string(it.Priority)]++
	}
	return counts
}

// ApprovalFormType returns the form type an approver must be cleared for at
// the item's current stage.
func ApprovalFormType(item model.PendingApprovalItem) model.FormType {
	switch item.Status {
	case model.StagePendingProductionLead:
		return model.FormTypePPCProductionLead
	case model.StagePendingQCLead:
		return model.FormTypeFPQCLead
	default:
		return item.FormType
	}
}
