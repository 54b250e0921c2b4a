package sqlbuild

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyBatch indicates that a multi-row insert was requested without records.
	ErrEmptyBatch = errors.New("sqlbuild: empty batch")
	// ErrEmptyFieldSet indicates that an assignment clause was requested without fields.
	ErrEmptyFieldSet = errors.New("sqlbuild: empty field set")
	// ErrRecordShapeMismatch indicates that records in one batch carry different field counts.
	ErrRecordShapeMismatch = errors.New("sqlbuild: record shape mismatch")
)

// Record is a single row of a multi-row insert. Values are emitted in column order.
type Record interface {
	Values() []any
}

// Assignment pairs a field name with the value it should take.
type Assignment struct {
	Field string
	Value any
}

// Clause is a rendered column assignment list and its positional arguments.
type Clause struct {
	SQL    string
	Values []any
}

// Next returns the first placeholder index not used by the clause.
func (c Clause) Next() int {
	return len(c.Values) + 1
}

// Dialect captures the store specific bits of statement rendering.
type Dialect struct {
	Name     string
	JSONCast string
}

var (
	// Postgres renders JSON fields with a jsonb cast.
	Postgres = Dialect{Name: "postgres", JSONCast: "::jsonb"}
	// SQLite stores JSON as text and needs no cast.
	SQLite = Dialect{Name: "sqlite"}
)

// InsertPlaceholders renders one "($n, ...)" group per record, numbered globally.
func InsertPlaceholders(records []Record) (string, error) {
	if len(records) == 0 {
		return "", ErrEmptyBatch
	}

	fieldCount := len(records[0].Values())
	groups := make([]string, 0, len(records))
	for recordIndex, record := range records {
		if got := len(record.Values()); got != fieldCount {
			return "", fmt.Errorf("%w: record %d has %d fields, want %d", ErrRecordShapeMismatch, recordIndex, got, fieldCount)
		}
		groups = append(groups, "("+Placeholders(recordIndex*fieldCount+1, fieldCount)+")")
	}
	return strings.Join(groups, ", "), nil
}

// InsertArgs flattens record values in placeholder order.
func InsertArgs(records []Record) []any {
	if len(records) == 0 {
		return nil
	}
	args := make([]any, 0, len(records)*len(records[0].Values()))
	for _, record := range records {
		args = append(args, record.Values()...)
	}
	return args
}

// Placeholders renders count comma separated placeholders starting at start.
func Placeholders(start, count int) string {
	if count <= 0 {
		return ""
	}
	parts := make([]string, count)
	for offset := range parts {
		parts[offset] = fmt.Sprintf("$%d", start+offset)
	}
	return strings.Join(parts, ", ")
}

// AssignmentClause renders a Postgres column assignment list.
func AssignmentClause(fields []Assignment, nameMap map[string]string, jsonFields ...string) (Clause, error) {
	return Postgres.AssignmentClause(fields, nameMap, jsonFields...)
}

// AssignmentClause renders `"column"=$n` fragments for every field in order.
// Fields named in jsonFields get the dialect cast and a JSON encoded value.
func (d Dialect) AssignmentClause(fields []Assignment, nameMap map[string]string, jsonFields ...string) (Clause, error) {
	if len(fields) == 0 {
		return Clause{}, ErrEmptyFieldSet
	}

	jsonSet := make(map[string]struct{}, len(jsonFields))
	for _, field := range jsonFields {
		jsonSet[field] = struct{}{}
	}

	fragments := make([]string, 0, len(fields))
	values := make([]any, 0, len(fields))
	for index, assignment := range fields {
		column := assignment.Field
		if mapped, ok := nameMap[assignment.Field]; ok && mapped != "" {
			column = mapped
		}
		fragment := fmt.Sprintf(`"%s"=$%d`, column, index+1)
		value := assignment.Value
		if _, isJSON := jsonSet[assignment.Field]; isJSON {
			encoded, err := json.Marshal(value)
			if err != nil {
				return Clause{}, fmt.Errorf("sqlbuild: encode %s: %w", assignment.Field, err)
			}
			fragment += d.JSONCast
			value = string(encoded)
		}
		fragments = append(fragments, fragment)
		values = append(values, value)
	}

	return Clause{SQL: strings.Join(fragments, ", "), Values: values}, nil
}
