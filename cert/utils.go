package cert

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	pemBeginCert = "-----BEGIN CERTIFICATE-----"
	pemEndCert   = "-----END CERTIFICATE-----"

	entryFilename     = "filename"
	entryCertificate  = "certificate"
	entryIntermediate = "intermediate"
)

// certificateText checks that b is ASCII containing a BEGIN CERTIFICATE
// marker followed by an END CERTIFICATE marker.
func certificateText(entry string, b []byte) (string, error) {
	for i, c := range b {
		if c >= utf8.RuneSelf {
			return "", &FormatError{Entry: entry, Err: fmt.Errorf("non-ASCII byte at offset %d", i)}
		}
	}
	s := string(b)

	begin := strings.Index(s, pemBeginCert)
	if begin < 0 {
		return "", &FormatError{Entry: entry, Err: errors.New("no BEGIN CERTIFICATE")}
	}
	if !strings.Contains(s[begin+len(pemBeginCert):], pemEndCert) {
		return "", &FormatError{Entry: entry, Err: errors.New("no END CERTIFICATE")}
	}
	return s, nil
}

// FormatError is returned when an archive entry (or the archive's filename)
// doesn't hold what it should.
type FormatError struct {
	Entry string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Entry, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned for archives that can't be read or fail their
// checksums.
type IntegrityError struct {
	Archive string
	Entry   string
	Err     error
}

func (e *IntegrityError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("invalid archive %s: entry %q: %v", e.Archive, e.Entry, e.Err)
	}
	return fmt.Sprintf("invalid archive %s: %v", e.Archive, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// LayoutError is returned for archives whose entries match no known layout.
type LayoutError struct {
	Archive string
	Entries []string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("unexpected content in %s: %q", e.Archive, e.Entries)
}
