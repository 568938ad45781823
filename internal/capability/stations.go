package capability

import (
	"strings"

	"github.com/clamflow/clamflow-bff/model"
)

// DefaultQCStaff returns the built-in QC staff roster.
func DefaultQCStaff() []model.QCStaffOption {
	return []model.QCStaffOption{
		{ID: "qc_staff_001", Name: "John Doe", Stations: []string{"RM Station", "Depuration Station"}},
		{ID: "qc_staff_002", Name: "Jane Smith", Stations: []string{"PPC Station", "Separation Station"}},
		{ID: "qc_staff_003", Name: "Mike Johnson", Stations: []string{"FP Station"}},
	}
}

// NormalizeStation reduces a station label to its comparable base name.
// "PPC - QC", "PPC Station" and "ppc" all normalize to "ppc".
func NormalizeStation(station string) string {
	s := strings.TrimSpace(station)
	if i := strings.Index(s, " - "); i >= 0 {
		s = s[:i]
	}
	if len(s) >= len(" station") && strings.EqualFold(s[len(s)-len(" station"):], " station") {
		s = s[:len(s)-len(" station")]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// QCStaff returns a copy of the QC staff roster.
func (m *Matrix) QCStaff() []model.QCStaffOption {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.QCStaffOption, len(m.staff))
	for i, s := range m.staff {
		s.Stations = append([]string(nil), s.Stations...)
		out[i] = s
	}
	return out
}

// LookupQCStaff returns the roster entry for staffID.
func (m *Matrix) LookupQCStaff(staffID string) (model.QCStaffOption, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.staff {
		if s.ID == staffID {
			s.Stations = append([]string(nil), s.Stations...)
			return s, true
		}
	}
	return model.QCStaffOption{}, false
}

// AssignedStations returns the stations a QC staff member is assigned to, or
// nil for an unknown staff id.
func (m *Matrix) AssignedStations(staffID string) []string {
	s, ok := m.LookupQCStaff(staffID)
	if !ok {
		return nil
	}
	return s.Stations
}

// CanQCStaffApproveStation reports whether the staff member is assigned to
// the station after normalization.
func (m *Matrix) CanQCStaffApproveStation(staffID, station string) bool {
	target := NormalizeStation(station)
	if target == "" {
		return false
	}
	for _, assigned := range m.AssignedStations(staffID) {
		if NormalizeStation(assigned) == target {
			return true
		}
	}
	return false
}
