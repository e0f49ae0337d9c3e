package cercasp

import (
	"fmt"
	"sort"
)

// Collection names known to the core.
const (
	CollectionPatients          = "patients"
	CollectionMedicalRecords    = "medical_records"
	CollectionPsychologyRecords = "psychology_records"
	CollectionFinanceRecords    = "finance_records"
	CollectionSystemLogs        = "system_logs"
)

// Collection describes a remote collection: who may touch it and which fields
// are encrypted before leaving the process.
type Collection struct {
	Name            string
	Read            Permission
	Write           Permission
	SensitiveFields []string
}

// Catalog maps collection names to their definitions.
type Catalog map[string]Collection

// DefaultCatalog returns the built-in collection definitions.
func DefaultCatalog() Catalog {
	return Catalog{
		CollectionPatients: {
			Name:            CollectionPatients,
			Read:            PermissionPatientsRead,
			Write:           PermissionPatientsWrite,
			SensitiveFields: []string{"curp", "phone", "address", "emergencyContact", "diagnosis"},
		},
		CollectionMedicalRecords: {
			Name:            CollectionMedicalRecords,
			Read:            PermissionMedicalRead,
			Write:           PermissionMedicalWrite,
			SensitiveFields: []string{"subjective", "objective", "assessment", "plan", "diagnosis", "medications"},
		},
		CollectionPsychologyRecords: {
			Name:            CollectionPsychologyRecords,
			Read:            PermissionMedicalRead,
			Write:           PermissionMedicalWrite,
			SensitiveFields: []string{"notes", "assessment", "plan"},
		},
		CollectionFinanceRecords: {
			Name:            CollectionFinanceRecords,
			Read:            PermissionFinanceRead,
			Write:           PermissionFinanceWrite,
			SensitiveFields: []string{"rfc", "amount", "paymentReference"},
		},
		CollectionSystemLogs: {
			Name:  CollectionSystemLogs,
			Read:  PermissionAll,
			Write: PermissionAll,
		},
	}
}

// Lookup returns the named collection or ErrUnknownCollection.
func (c Catalog) Lookup(name string) (Collection, error) {
	col, ok := c[name]
	if !ok {
		return Collection{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return col, nil
}

// Names returns the collection names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithSensitiveFields returns a copy of c where the named collections use the
// given field lists. Unknown names are reported as an error.
func (c Catalog) WithSensitiveFields(overrides map[string][]string) (Catalog, error) {
	out := make(Catalog, len(c))
	for k, v := range c {
		out[k] = v
	}
	for name, fields := range overrides {
		col, err := c.Lookup(name)
		if err != nil {
			return nil, err
		}
		col.SensitiveFields = append([]string(nil), fields...)
		out[name] = col
	}
	return out, nil
}
