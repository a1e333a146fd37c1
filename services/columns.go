package services

import (
	"fmt"
	"strings"
)

const (
	FieldStudentID = "student_id"
	FieldName      = "name"
	FieldEmail     = "email"
)

var rosterFields = []string{FieldStudentID, FieldName, FieldEmail}

var fieldLabels = map[string]string{
	FieldStudentID: "Student ID",
	FieldName:      "Name",
	FieldEmail:     "Email",
}

var columnAliases = map[string][]string{
	FieldStudentID: {"student_id", "id", "student_number", "roll_number"},
	FieldName:      {"name", "full_name", "student_name"},
	FieldEmail:     {"email", "email_address", "student_email"},
}

// NormalizeHeader lowercases and trims a header and joins its words with
// underscores, so "Roll  Number" matches roll_number.
func NormalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), "_")
}

// ColumnMap maps each roster field to its column index.
type ColumnMap map[string]int

// ResolveColumns finds the column for every roster field. The caller's mapping
// is tried first, then the built-in aliases. When two headers normalize to the
// same name the leftmost wins.
func ResolveColumns(headers []string, mapping map[string]string) (ColumnMap, error) {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		key := NormalizeHeader(h)
		if _, seen := index[key]; !seen && key != "" {
			index[key] = i
		}
	}

	cols := make(ColumnMap, len(rosterFields))
	var missing []string
	for _, field := range rosterFields {
		candidates := make([]string, 0, len(columnAliases[field])+1)
		if custom := strings.TrimSpace(mapping[field]); custom != "" {
			candidates = append(candidates, custom)
		} else {
			candidates = append(candidates, field)
		}
		candidates = append(candidates, columnAliases[field]...)

		found := false
		for _, candidate := range candidates {
			if i, ok := index[NormalizeHeader(candidate)]; ok {
				cols[field] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, fieldLabels[field])
		}
	}

	if len(missing) > 0 {
		return nil, &FatalImportError{Message: fmt.Sprintf("Could not find columns: %s", strings.Join(missing, ", "))}
	}
	return cols, nil
}
