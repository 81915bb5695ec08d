package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

// Coerce converts a raw cell value to the kind a field rule expects. String
// cells are parsed using the session's format hints; already typed cells must
// match the expected kind.
func Coerce(value domain.FieldValue, kind domain.ValueKind, opts domain.SessionOptions) (domain.FieldValue, error) {
	if value.IsNull() {
		return domain.NullValue(), nil
	}
	if value.Kind == kind {
		return value, nil
	}
	if value.Kind != domain.ValueKindString {
		return domain.FieldValue{}, fmt.Errorf("expected %s, got %s", kind, value.Kind)
	}

	raw := strings.TrimSpace(value.Str)
	if raw == "" {
		return domain.NullValue(), nil
	}

	switch kind {
	case domain.ValueKindString:
		return domain.StringValue(raw), nil
	case domain.ValueKindNumber:
		f, err := parseNumber(raw, opts.DecimalComma)
		if err != nil {
			return domain.FieldValue{}, fmt.Errorf("unable to coerce %q to number", raw)
		}
		return domain.NumberValue(f), nil
	case domain.ValueKindBool:
		b, err := parseBool(raw)
		if err != nil {
			return domain.FieldValue{}, fmt.Errorf("unable to coerce %q to bool", raw)
		}
		return domain.BoolValue(b), nil
	case domain.ValueKindDate:
		ts, err := parseDate(raw, opts.DateFormat)
		if err != nil {
			return domain.FieldValue{}, fmt.Errorf("unable to coerce %q to date", raw)
		}
		return domain.DateValue(ts), nil
	default:
		return domain.FieldValue{}, fmt.Errorf("unsupported value kind %s", kind)
	}
}

func parseNumber(raw string, decimalComma bool) (float64, error) {
	cleaned := raw
	if decimalComma {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	return strconv.ParseFloat(cleaned, 64)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "yes", "y":
		return true, nil
	case "0", "no", "n":
		return false, nil
	}
	return strconv.ParseBool(strings.ToLower(raw))
}

func parseDate(raw, hint string) (time.Time, error) {
	if hint != "" {
		if ts, err := time.Parse(hint, raw); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}
