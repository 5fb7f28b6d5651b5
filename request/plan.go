package request

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/devon-mar/startssl/csr"
)

var (
	ErrNoSubjects      = errors.New("no subjects found")
	ErrNoDirectDomains = errors.New("no direct subjects identified")
)

// CoverageError is returned when a subject isn't covered by any validated domain.
type CoverageError struct {
	Subject string
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("missing domain validations for %s", e.Subject)
}

type Plan struct {
	// Subjects is the common name followed by the DNS names, without duplicates.
	Subjects []string
	// DirectDomains are the validated domains covering at least one subject.
	DirectDomains []string
	// Subdomains are the subjects that aren't a validated domain themselves.
	Subdomains []string
}

// NewPlan builds the subjects for a server certificate request. Every subject
// must be covered by res.Domains.
func NewPlan(commonName string, sans iter.Seq[csr.SAN], res ValidatedResources) (*Plan, error) {
	var subjects []string
	if commonName != "" {
		subjects = append(subjects, commonName)
	}
	if sans != nil {
		for san := range sans {
			if san.Type != csr.DNSName || slices.Contains(subjects, san.Value) {
				continue
			}
			subjects = append(subjects, san.Value)
		}
	}
	if len(subjects) == 0 {
		return nil, ErrNoSubjects
	}

	p := &Plan{Subjects: subjects}
	for _, s := range subjects {
		d, ok := Covers(s, res.Domains)
		if !ok {
			return nil, &CoverageError{Subject: s}
		}
		if !slices.Contains(p.DirectDomains, d) {
			p.DirectDomains = append(p.DirectDomains, d)
		}
		if s != d {
			p.Subdomains = append(p.Subdomains, s)
		}
	}

	// Unreachable while every subject must be covered; guards the
	// postcondition if coverage ever becomes optional.
	if len(p.DirectDomains) == 0 {
		return nil, ErrNoDirectDomains
	}
	return p, nil
}

// PlanCSR is NewPlan for the names of a decoded CSR.
func PlanCSR(d *csr.DecodedCSR, res ValidatedResources) (*Plan, error) {
	cn, _ := d.CommonName()
	return NewPlan(cn, d.SubjectAltNames(csr.DNSName), res)
}
