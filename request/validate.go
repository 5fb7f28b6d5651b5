package request

import (
	"slices"
	"strings"
)

// ValidatedResources are the domains and email addresses the portal account
// has completed validation for, in the order the portal returned them.
type ValidatedResources struct {
	Domains []string
	Emails  []string
}

// Covers returns the first validated domain that name ends with.
//
// This is a plain string suffix check, the same one the portal performs, so
// "evilexample.com" is covered by "example.com".
func Covers(name string, domains []string) (string, bool) {
	for _, d := range domains {
		if strings.HasSuffix(name, d) {
			return d, true
		}
	}
	return "", false
}

// CoversEmail reports whether addr is one of the validated email addresses.
func CoversEmail(addr string, emails []string) bool {
	return slices.Contains(emails, addr)
}
