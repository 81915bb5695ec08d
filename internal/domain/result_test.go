package domain

import "testing"

func TestRowStatusTransitions(t *testing.T) {
	cases := []struct {
		from    RowStatus
		to      RowStatus
		allowed bool
	}{
		{RowStatusError, RowStatusFixed, true},
		{RowStatusError, RowStatusError, true}, // a failed fix replaces the issues
		{RowStatusError, RowStatusImported, false},
		{RowStatusFixed, RowStatusImported, true},
		{RowStatusFixed, RowStatusFixed, true},
		{RowStatusValid, RowStatusImported, true},
		{RowStatusValid, RowStatusFixed, false},
		{RowStatusWarning, RowStatusImported, true},
		{RowStatusImportFailed, RowStatusImported, true},
		{RowStatusSkipped, RowStatusImported, false},
		{RowStatusImported, RowStatusSkipped, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestRowStatusImportable(t *testing.T) {
	importable := []RowStatus{RowStatusValid, RowStatusWarning, RowStatusFixed, RowStatusImportFailed}
	for _, status := range importable {
		if !status.Importable() {
			t.Errorf("expected %s to be importable", status)
		}
	}
	blocked := []RowStatus{RowStatusError, RowStatusSkipped, RowStatusImported}
	for _, status := range blocked {
		if status.Importable() {
			t.Errorf("expected %s to be excluded from import", status)
		}
	}
}

func TestImportRecordPrefersOperatorFix(t *testing.T) {
	transformed := Record{{Name: "name", Value: StringValue("Ada")}}
	fixed := Record{{Name: "name", Value: StringValue("Ada Lovelace")}}

	result := MigrationValidationResult{TransformedData: transformed}
	if got, _ := result.ImportRecord().Get("name"); got.Str != "Ada" {
		t.Fatalf("expected transformed record, got %q", got.Str)
	}

	result.FixedData = fixed
	if got, _ := result.ImportRecord().Get("name"); got.Str != "Ada Lovelace" {
		t.Fatalf("expected operator fix to win, got %q", got.Str)
	}
}
