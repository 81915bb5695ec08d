// Package rules holds the entity-type specific validation rule sets run by
// the validation engine and re-run row-by-row from the correction workbench.
// Rule evaluation is pure: the same raw row, rule set, and context always
// produce the same transformed record and issue lists.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
)

// Severity distinguishes blocking errors from advisory warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// FieldRule describes the expected shape of one target field.
type FieldRule struct {
	Name     string
	Type     domain.ValueKind
	Required bool
	// Advisory demotes range, enum, reference and duplicate findings on this
	// field to warnings. Schema findings (missing required, uncoercible type)
	// always block.
	Advisory bool
	MaxLen   int
	Min      *float64
	Max      *float64
	MinDate  *time.Time
	MaxDate  *time.Time
	Enum     []string
	// References names the entity type whose business key this field must
	// resolve to, either among existing tenant data or rows staged in the
	// same session.
	References string
}

// Finding pairs an issue with its severity.
type Finding struct {
	Severity Severity
	Issue    domain.RowIssue
}

// ErrorFinding builds a blocking finding.
func ErrorFinding(field string, code domain.IssueCode, format string, args ...any) Finding {
	return Finding{Severity: SeverityError, Issue: domain.RowIssue{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}}
}

// WarningFinding builds an advisory finding.
func WarningFinding(field string, code domain.IssueCode, format string, args ...any) Finding {
	return Finding{Severity: SeverityWarning, Issue: domain.RowIssue{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}}
}

// RowCheck is an entity specific invariant evaluated against the transformed
// record. Findings are reported with IssueBusinessRule unless the check says
// otherwise.
type RowCheck func(record domain.Record) []Finding

// RuleSet bundles everything needed to validate rows of one entity type.
type RuleSet struct {
	EntityType string
	Fields     []FieldRule
	// KeyFields derive the business key used for duplicate detection and
	// idempotent import.
	KeyFields []string
	Checks    []RowCheck
}

// ReferenceResolver reports whether a business key exists for an entity type,
// looking at both persisted tenant data and rows staged in the session.
type ReferenceResolver func(entityType, key string) bool

// EvalContext carries the session scoped inputs of one evaluation.
type EvalContext struct {
	// Mapping renames source columns to target field names before rules run.
	Mapping map[string]string
	Options domain.SessionOptions
	// ResolveReference backs IssueReference checks; nil disables them.
	ResolveReference ReferenceResolver
	// ExistingKeys holds business keys already present in tenant data for
	// this entity type.
	ExistingKeys map[string]bool
	// BatchFirstIndex maps each business key in the session batch to the
	// lowest global row index carrying it. Later occurrences are duplicates.
	BatchFirstIndex map[string]int
	GlobalRowIndex  int
}

// BusinessKey derives the logical key for a transformed record.
func (s RuleSet) BusinessKey(record domain.Record) string {
	return domain.BusinessKeyFor(record, s.KeyFields)
}

// Evaluate transforms a raw row and validates it, returning the transformed
// record plus blocking errors and advisory warnings. The transformed record
// is returned even when errors are present so that operators can inspect the
// partially normalized row; callers must not import it while errors remain.
func (s RuleSet) Evaluate(row domain.Record, ctx EvalContext) (domain.Record, []domain.RowIssue, []domain.RowIssue) {
	var findings []Finding

	transformed := s.transform(row, ctx, &findings)
	s.checkRequired(transformed, &findings)
	s.checkBounds(transformed, &findings)
	s.checkReferences(transformed, ctx, &findings)
	s.checkDuplicates(transformed, ctx, &findings)

	for _, check := range s.Checks {
		findings = append(findings, check(transformed)...)
	}

	var errs, warnings []domain.RowIssue
	for _, finding := range findings {
		if finding.Severity == SeverityWarning {
			warnings = append(warnings, finding.Issue)
		} else {
			errs = append(errs, finding.Issue)
		}
	}
	return transformed, errs, warnings
}

// Transform applies the field mapping and coercions without evaluating any
// rules. The validation engine uses it to derive business keys for the
// in-batch duplicate pre-scan before the full evaluation pass runs.
func (s RuleSet) Transform(row domain.Record, ctx EvalContext) domain.Record {
	var findings []Finding
	return s.transform(row, ctx, &findings)
}

func (s RuleSet) fieldRule(name string) (FieldRule, bool) {
	for _, rule := range s.Fields {
		if rule.Name == name {
			return rule, true
		}
	}
	return FieldRule{}, false
}

// transform applies the field mapping and coerces every known field to its
// declared kind. Unknown columns are carried through untouched.
func (s RuleSet) transform(row domain.Record, ctx EvalContext, findings *[]Finding) domain.Record {
	transformed := make(domain.Record, 0, len(row))
	for _, field := range row {
		name := field.Name
		if mapped, ok := ctx.Mapping[name]; ok && mapped != "" {
			name = mapped
		}

		rule, known := s.fieldRule(name)
		if !known {
			transformed = append(transformed, domain.Field{Name: name, Value: field.Value})
			continue
		}

		coerced, err := Coerce(field.Value, rule.Type, ctx.Options)
		if err != nil {
			*findings = append(*findings, ErrorFinding(name, domain.IssueSchema, "%v", err))
			transformed = append(transformed, domain.Field{Name: name, Value: field.Value})
			continue
		}
		transformed = append(transformed, domain.Field{Name: name, Value: coerced})
	}
	return transformed
}

func (s RuleSet) checkRequired(record domain.Record, findings *[]Finding) {
	for _, rule := range s.Fields {
		if !rule.Required {
			continue
		}
		value, ok := record.Get(rule.Name)
		if !ok || value.IsNull() {
			*findings = append(*findings, ErrorFinding(rule.Name, domain.IssueSchema, "required field is missing"))
		}
	}
}

func (s RuleSet) checkBounds(record domain.Record, findings *[]Finding) {
	for _, rule := range s.Fields {
		value, ok := record.Get(rule.Name)
		if !ok || value.IsNull() || value.Kind != rule.Type {
			continue
		}

		report := func(format string, args ...any) {
			if rule.Advisory {
				*findings = append(*findings, WarningFinding(rule.Name, domain.IssueRange, format, args...))
			} else {
				*findings = append(*findings, ErrorFinding(rule.Name, domain.IssueRange, format, args...))
			}
		}

		switch rule.Type {
		case domain.ValueKindNumber:
			if rule.Min != nil && value.Num < *rule.Min {
				report("value %s below minimum %s", value.String(), trimFloat(*rule.Min))
			}
			if rule.Max != nil && value.Num > *rule.Max {
				report("value %s above maximum %s", value.String(), trimFloat(*rule.Max))
			}
		case domain.ValueKindDate:
			if rule.MinDate != nil && value.Date.Before(*rule.MinDate) {
				report("date %s before minimum %s", value.Date.Format("2006-01-02"), rule.MinDate.Format("2006-01-02"))
			}
			if rule.MaxDate != nil && value.Date.After(*rule.MaxDate) {
				report("date %s after maximum %s", value.Date.Format("2006-01-02"), rule.MaxDate.Format("2006-01-02"))
			}
		case domain.ValueKindString:
			if rule.MaxLen > 0 && len(value.Str) > rule.MaxLen {
				report("value exceeds maximum length %d", rule.MaxLen)
			}
			if len(rule.Enum) > 0 && !containsFold(rule.Enum, value.Str) {
				report("value must be one of: %s", strings.Join(rule.Enum, ", "))
			}
		}
	}
}

func (s RuleSet) checkReferences(record domain.Record, ctx EvalContext, findings *[]Finding) {
	if ctx.ResolveReference == nil {
		return
	}
	for _, rule := range s.Fields {
		if rule.References == "" {
			continue
		}
		value, ok := record.Get(rule.Name)
		if !ok || value.IsNull() {
			continue
		}

		key := value.String()
		if ctx.ResolveReference(rule.References, key) {
			continue
		}
		if rule.Advisory {
			*findings = append(*findings, WarningFinding(rule.Name, domain.IssueReference, "%s %q does not exist", rule.References, key))
		} else {
			*findings = append(*findings, ErrorFinding(rule.Name, domain.IssueReference, "%s %q does not exist", rule.References, key))
		}
	}
}

// checkDuplicates flags rows whose business key collides with existing tenant
// data or with an earlier row of the same batch. The first occurrence in the
// batch stays clean; only later rows are flagged, which keeps evaluation
// deterministic regardless of chunk processing order.
func (s RuleSet) checkDuplicates(record domain.Record, ctx EvalContext, findings *[]Finding) {
	if len(s.KeyFields) == 0 {
		return
	}
	key := s.BusinessKey(record)
	if key == "" {
		return
	}

	field := strings.Join(s.KeyFields, ",")
	if ctx.ExistingKeys[key] {
		*findings = append(*findings, WarningFinding(field, domain.IssueDuplicate, "key %q already exists; import will overwrite", key))
		return
	}
	if first, ok := ctx.BatchFirstIndex[key]; ok && first < ctx.GlobalRowIndex {
		*findings = append(*findings, ErrorFinding(field, domain.IssueDuplicate, "key %q duplicates row %d in this batch", key, first))
	}
}

func containsFold(values []string, candidate string) bool {
	for _, v := range values {
		if strings.EqualFold(v, candidate) {
			return true
		}
	}
	return false
}

func trimFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
}
