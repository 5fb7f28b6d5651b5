package request

import (
	"errors"
	"net/url"
	"strings"
)

const ContentType = "application/x-www-form-urlencoded"

// Field names and fixed values of the portal's CSR submission form.
const (
	FieldDomains     = "domains"
	FieldCSRMode     = "rbcsr"
	FieldCSR         = "areaCSR"
	FieldConfirm     = "hidchekcer"
	FieldEventTarget = "__EVENTTARGET"

	csrModeSubmit = "scsr"
	confirmValue  = "1"
	submitTarget  = "btnSubmit"
)

type Field struct {
	Name  string
	Value string
}

// Form is an ordered list of form fields.
type Form []Field

// Build assembles the CSR submission form for a plan.
func Build(plan *Plan, csrPEM string) (Form, error) {
	if plan == nil || len(plan.Subjects) == 0 {
		return nil, ErrNoSubjects
	}
	if csrPEM == "" {
		return nil, errors.New("empty CSR")
	}
	return Form{
		{FieldDomains, strings.Join(plan.Subjects, "")},
		{FieldCSRMode, csrModeSubmit},
		{FieldCSR, csrPEM},
		{FieldConfirm, confirmValue},
		{FieldEventTarget, submitTarget},
	}, nil
}

// Encode returns the urlencoded body, keeping the field order.
func (f Form) Encode() string {
	var sb strings.Builder
	for i, field := range f {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(field.Name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(field.Value))
	}
	return sb.String()
}

func (f Form) Values() url.Values {
	v := make(url.Values, len(f))
	for _, field := range f {
		v.Add(field.Name, field.Value)
	}
	return v
}
