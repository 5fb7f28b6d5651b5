package csr

import "fmt"

// NameType is the GeneralName CHOICE arm of a subject alternative name. The
// values are the context-specific tag numbers.
type NameType uint8

const (
	OtherName NameType = iota
	RFC822Name
	DNSName
	X400Address
	DirectoryName
	EDIPartyName
	URI
	IPAddress
	RegisteredID
)

var nameTypes = [...]string{
	OtherName:     "otherName",
	RFC822Name:    "rfc822Name",
	DNSName:       "dNSName",
	X400Address:   "x400Address",
	DirectoryName: "directoryName",
	EDIPartyName:  "ediPartyName",
	URI:           "uniformResourceIdentifier",
	IPAddress:     "iPAddress",
	RegisteredID:  "registeredID",
}

func (t NameType) String() string {
	if int(t) < len(nameTypes) {
		return nameTypes[t]
	}
	return fmt.Sprintf("NameType(%d)", uint8(t))
}

// ParseNameType is the inverse of NameType.String.
func ParseNameType(s string) (NameType, error) {
	for i, n := range nameTypes {
		if n == s {
			return NameType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown name type %q", s)
}

type SAN struct {
	Type  NameType
	Value string
}

func (s SAN) String() string {
	return s.Type.String() + ":" + s.Value
}

// FormatError is returned for input that is not a well formed PEM CSR.
type FormatError struct {
	Field string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid CSR %s: %v", e.Field, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
