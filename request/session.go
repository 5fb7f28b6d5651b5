package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
)

// ResourceFetcher retrieves the validated resources of an authenticated
// portal account.
type ResourceFetcher interface {
	FetchValidatedResources(ctx context.Context) (ValidatedResources, error)
}

// Session caches the validated resources for the lifetime of a portal session.
type Session struct {
	fetcher ResourceFetcher

	mu        sync.Mutex
	resources *ValidatedResources
}

func NewSession(f ResourceFetcher) *Session {
	return &Session{fetcher: f}
}

// ValidatedResources returns the cached resources, fetching them on first
// use or when forceRefresh is set. A failed fetch leaves the cache untouched.
func (s *Session) ValidatedResources(ctx context.Context, forceRefresh bool) (ValidatedResources, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resources == nil || forceRefresh {
		res, err := s.fetcher.FetchValidatedResources(ctx)
		if err != nil {
			return ValidatedResources{}, fmt.Errorf("error fetching validated resources: %w", err)
		}
		s.resources = &res
	}
	return ValidatedResources{
		Domains: slices.Clone(s.resources.Domains),
		Emails:  slices.Clone(s.resources.Emails),
	}, nil
}

type domainRecord struct {
	Domain string `json:"Domain"`
}

type emailRecord struct {
	Email string `json:"Email"`
}

// ParseDomainRecords reduces the portal's domain validation records to domain names.
func ParseDomainRecords(r io.Reader) ([]string, error) {
	var records []domainRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("error decoding domain records: %w", err)
	}
	domains := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Domain == "" {
			continue
		}
		domains = append(domains, rec.Domain)
	}
	return domains, nil
}

// ParseEmailRecords reduces the portal's email validation records to addresses.
func ParseEmailRecords(r io.Reader) ([]string, error) {
	var records []emailRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("error decoding email records: %w", err)
	}
	emails := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Email == "" {
			continue
		}
		emails = append(emails, rec.Email)
	}
	return emails, nil
}

// FileFetcher reads validation records previously saved from the portal.
// EmailsFile is optional.
type FileFetcher struct {
	DomainsFile string
	EmailsFile  string
}

// FetchValidatedResources implements ResourceFetcher
func (f *FileFetcher) FetchValidatedResources(ctx context.Context) (ValidatedResources, error) {
	var res ValidatedResources
	var err error

	res.Domains, err = readRecords(f.DomainsFile, ParseDomainRecords)
	if err != nil {
		return ValidatedResources{}, err
	}
	if f.EmailsFile != "" {
		res.Emails, err = readRecords(f.EmailsFile, ParseEmailRecords)
		if err != nil {
			return ValidatedResources{}, err
		}
	}
	return res, nil
}

func readRecords(name string, parse func(io.Reader) ([]string, error)) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}
