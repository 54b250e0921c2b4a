package sqlbuild

import (
	"errors"
	"reflect"
	"testing"
)

type pairRecord struct {
	a any
	b any
}

func (r pairRecord) Values() []any {
	return []any{r.a, r.b}
}

type tripleRecord struct {
	a, b, c any
}

func (r tripleRecord) Values() []any {
	return []any{r.a, r.b, r.c}
}

func TestInsertPlaceholdersNumbersGroupsGlobally(t *testing.T) {
	records := []Record{pairRecord{a: 1, b: 2}, pairRecord{a: 3, b: 4}}

	placeholders, err := InsertPlaceholders(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if placeholders != "($1, $2), ($3, $4)" {
		t.Fatalf("unexpected placeholders: %q", placeholders)
	}

	args := InsertArgs(records)
	if !reflect.DeepEqual(args, []any{1, 2, 3, 4}) {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestInsertPlaceholdersThreeFields(t *testing.T) {
	records := []Record{
		tripleRecord{a: 7, b: "x", c: 1},
		tripleRecord{a: 7, b: "y", c: 2},
		tripleRecord{a: 7, b: "z", c: 3},
	}

	placeholders, err := InsertPlaceholders(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "($1, $2, $3), ($4, $5, $6), ($7, $8, $9)"
	if placeholders != expected {
		t.Fatalf("unexpected placeholders: got %q want %q", placeholders, expected)
	}
}

func TestInsertPlaceholdersFailures(t *testing.T) {
	testCases := []struct {
		name    string
		records []Record
		wantErr error
	}{
		{name: "nil", records: nil, wantErr: ErrEmptyBatch},
		{name: "empty", records: []Record{}, wantErr: ErrEmptyBatch},
		{
			name:    "mixed-shapes",
			records: []Record{pairRecord{a: 1, b: 2}, tripleRecord{a: 1, b: 2, c: 3}},
			wantErr: ErrRecordShapeMismatch,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := InsertPlaceholders(testCase.records)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestAssignmentClauseMapsColumnsAndEncodesJSON(t *testing.T) {
	clause, err := AssignmentClause(
		[]Assignment{{Field: "f1", Value: "v1"}, {Field: "f2", Value: "v2"}},
		map[string]string{"f1": "F_1"},
		"f2",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clause.SQL != `"F_1"=$1, "f2"=$2::jsonb` {
		t.Fatalf("unexpected clause: %s", clause.SQL)
	}
	if !reflect.DeepEqual(clause.Values, []any{"v1", `"v2"`}) {
		t.Fatalf("unexpected values: %#v", clause.Values)
	}
	if clause.Next() != 3 {
		t.Fatalf("expected next placeholder 3, got %d", clause.Next())
	}
}

func TestAssignmentClauseKeepsCallerOrder(t *testing.T) {
	clause, err := AssignmentClause(
		[]Assignment{
			{Field: "deckName", Value: "Burn"},
			{Field: "description", Value: "fast"},
			{Field: "tags", Value: []string{"aggro", "red"}},
		},
		map[string]string{"deckName": "deck_name"},
		"tags",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `"deck_name"=$1, "description"=$2, "tags"=$3::jsonb`
	if clause.SQL != expected {
		t.Fatalf("unexpected clause: got %s want %s", clause.SQL, expected)
	}
	if clause.Values[2] != `["aggro","red"]` {
		t.Fatalf("unexpected json value: %#v", clause.Values[2])
	}
}

func TestSQLiteAssignmentClauseOmitsCast(t *testing.T) {
	clause, err := SQLite.AssignmentClause([]Assignment{{Field: "tags", Value: []string{"x"}}}, nil, "tags")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clause.SQL != `"tags"=$1` {
		t.Fatalf("unexpected clause: %s", clause.SQL)
	}
	if clause.Values[0] != `["x"]` {
		t.Fatalf("unexpected value: %#v", clause.Values[0])
	}
}

func TestAssignmentClauseRejectsEmptyFields(t *testing.T) {
	if _, err := AssignmentClause(nil, map[string]string{}); !errors.Is(err, ErrEmptyFieldSet) {
		t.Fatalf("expected ErrEmptyFieldSet, got %v", err)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := Placeholders(5, 3); got != "$5, $6, $7" {
		t.Fatalf("unexpected placeholders: %q", got)
	}
	if got := Placeholders(1, 0); got != "" {
		t.Fatalf("expected empty placeholder list, got %q", got)
	}
}
