package domain

import "fmt"

// IssueCode classifies a validation finding. The same taxonomy is used for
// blocking errors and advisory warnings.
type IssueCode string

const (
	IssueSchema       IssueCode = "schema"
	IssueRange        IssueCode = "range"
	IssueReference    IssueCode = "reference"
	IssueDuplicate    IssueCode = "duplicate"
	IssueBusinessRule IssueCode = "business_rule"
)

// ValidIssueCode reports whether code is part of the closed taxonomy.
func ValidIssueCode(code IssueCode) bool {
	switch code {
	case IssueSchema, IssueRange, IssueReference, IssueDuplicate, IssueBusinessRule:
		return true
	}
	return false
}

// RowIssue captures one validation finding against one field of one row.
type RowIssue struct {
	Field   string    `json:"field"`
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
}

func (i RowIssue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("[%s] %s", i.Code, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Code, i.Field, i.Message)
}
