package capability

import (
	"fmt"
	"os"

	"github.com/clamflow/clamflow-bff/model"
	"gopkg.in/yaml.v3"
)

type policyFile struct {
	Roles   map[string][]string `yaml:"roles"`
	QCStaff []staffEntry        `yaml:"qc_staff"`
}

type staffEntry struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Stations []string `yaml:"stations"`
}

// LoadMatrix builds a matrix from a YAML policy file. Role keys may use
// either spelling ("QC Lead" or "qc_lead"). Sections missing from the file
// keep their built-in defaults.
func LoadMatrix(path string) (*Matrix, error) {
	m := DefaultMatrix()
	if err := m.Sync(path); err != nil {
		return nil, err
	}
	return m, nil
}

// Sync reloads the policy file from disk, replacing the matrix contents.
func (m *Matrix) Sync(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", path, err)
	}

	roles := defaultRoles()
	if len(p.Roles) > 0 {
		roles = make(map[model.Role][]string, len(p.Roles))
		for name, caps := range p.Roles {
			role := model.ParseRole(name)
			if role == model.RoleUnknown {
				return fmt.Errorf("capability: policy file %s: unknown role %q", path, name)
			}
			roles[role] = append(roles[role], caps...)
		}
	}

	staff := DefaultQCStaff()
	if len(p.QCStaff) > 0 {
		staff = make([]model.QCStaffOption, 0, len(p.QCStaff))
		for _, s := range p.QCStaff {
			if s.ID == "" {
				return fmt.Errorf("capability: policy file %s: qc_staff entry without id", path)
			}
			staff = append(staff, model.QCStaffOption{ID: s.ID, Name: s.Name, Stations: s.Stations})
		}
	}

	m.replace(roles, staff)
	return nil
}
