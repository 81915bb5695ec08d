package rules

import (
	"net/mail"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
)

// DefaultRegistry registers the built-in rule sets for the standard business
// record types. Deployments with custom entity types register their own sets
// next to or instead of these.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	_ = registry.Register(CustomerRules())
	_ = registry.Register(ProductRules())
	_ = registry.Register(OrderRules())
	return registry
}

// CustomerRules validates customer master data.
func CustomerRules() RuleSet {
	minSince := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	zero := 0.0
	return RuleSet{
		EntityType: "customer",
		KeyFields:  []string{"customer_number"},
		Fields: []FieldRule{
			{Name: "customer_number", Type: domain.ValueKindString, Required: true, MaxLen: 64},
			{Name: "name", Type: domain.ValueKindString, Required: true, MaxLen: 200},
			{Name: "email", Type: domain.ValueKindString, MaxLen: 254},
			{Name: "status", Type: domain.ValueKindString, Enum: []string{"active", "inactive", "prospect"}},
			{Name: "credit_limit", Type: domain.ValueKindNumber, Min: &zero, Advisory: true},
			{Name: "customer_since", Type: domain.ValueKindDate, MinDate: &minSince},
		},
		Checks: []RowCheck{checkEmailFormat},
	}
}

// ProductRules validates product master data.
func ProductRules() RuleSet {
	zero := 0.0
	return RuleSet{
		EntityType: "product",
		KeyFields:  []string{"sku"},
		Fields: []FieldRule{
			{Name: "sku", Type: domain.ValueKindString, Required: true, MaxLen: 64},
			{Name: "name", Type: domain.ValueKindString, Required: true, MaxLen: 200},
			{Name: "price", Type: domain.ValueKindNumber, Required: true, Min: &zero},
			{Name: "currency", Type: domain.ValueKindString, Enum: []string{"EUR", "USD", "GBP"}},
			{Name: "stock", Type: domain.ValueKindNumber, Min: &zero, Advisory: true},
			{Name: "discontinued", Type: domain.ValueKindBool},
		},
	}
}

// OrderRules validates order rows. Orders reference customers and products by
// business key, so those types must be imported first.
func OrderRules() RuleSet {
	one := 1.0
	return RuleSet{
		EntityType: "order",
		KeyFields:  []string{"order_number"},
		Fields: []FieldRule{
			{Name: "order_number", Type: domain.ValueKindString, Required: true, MaxLen: 64},
			{Name: "customer_number", Type: domain.ValueKindString, Required: true, References: "customer"},
			{Name: "sku", Type: domain.ValueKindString, Required: true, References: "product"},
			{Name: "quantity", Type: domain.ValueKindNumber, Required: true, Min: &one},
			{Name: "order_date", Type: domain.ValueKindDate, Required: true},
			{Name: "delivery_date", Type: domain.ValueKindDate},
		},
		Checks: []RowCheck{checkDeliveryAfterOrder},
	}
}

func checkEmailFormat(record domain.Record) []Finding {
	value, ok := record.Get("email")
	if !ok || value.IsNull() || value.Kind != domain.ValueKindString {
		return nil
	}
	if _, err := mail.ParseAddress(value.Str); err != nil {
		return []Finding{WarningFinding("email", domain.IssueBusinessRule, "%q is not a valid email address", value.Str)}
	}
	return nil
}

func checkDeliveryAfterOrder(record domain.Record) []Finding {
	orderDate, ok := record.Get("order_date")
	if !ok || orderDate.Kind != domain.ValueKindDate {
		return nil
	}
	deliveryDate, ok := record.Get("delivery_date")
	if !ok || deliveryDate.Kind != domain.ValueKindDate {
		return nil
	}
	if deliveryDate.Date.Before(orderDate.Date) {
		return []Finding{ErrorFinding("delivery_date", domain.IssueBusinessRule, "delivery date precedes order date")}
	}
	return nil
}
