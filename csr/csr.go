// Package csr decodes PEM encoded PKCS#10 certificate signing requests far
// enough to recover the names a certificate authority will be asked for.
package csr

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"net/netip"
	"os"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidCommonName       = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidExtensionRequest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}
	oidSubjectAltName   = asn1.ObjectIdentifier{2, 5, 29, 17}

	pemCSR = regexp.MustCompile(`-----BEGIN CERTIFICATE REQUEST-----([A-Za-z0-9+/=\n\r\t ]*)-----END CERTIFICATE REQUEST-----`)
)

// DecodedCSR holds the names found in a CSR. It is never modified after Decode.
type DecodedCSR struct {
	pem        string
	commonName string
	hasCN      bool
	altNames   []SAN
}

// Decode parses the single PEM CSR block contained in pemText.
func Decode(pemText string) (*DecodedCSR, error) {
	matches := pemCSR.FindAllStringSubmatch(pemText, -1)
	switch len(matches) {
	case 0:
		return nil, &FormatError{Field: "pem", Err: errors.New("no CERTIFICATE REQUEST block found")}
	case 1:
	default:
		return nil, &FormatError{Field: "pem", Err: fmt.Errorf("found %d CERTIFICATE REQUEST blocks, want 1", len(matches))}
	}

	b64 := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, matches[0][1])
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &FormatError{Field: "base64", Err: err}
	}

	root, err := ParseDER(der)
	if err != nil {
		return nil, &FormatError{Field: "der", Err: err}
	}

	d := &DecodedCSR{pem: pemText}
	if err := d.load(root); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodeFile reads and decodes a PEM CSR file.
func DecodeFile(name string) (*DecodedCSR, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return Decode(string(b))
}

//	CertificationRequest ::= SEQUENCE {
//	    certificationRequestInfo SEQUENCE {
//	        version       INTEGER,
//	        subject       Name,
//	        subjectPKInfo SEQUENCE,
//	        attributes    [0] IMPLICIT SET OF Attribute },
//	    signatureAlgorithm SEQUENCE,
//	    signature          BIT STRING }
func (d *DecodedCSR) load(root *Node) error {
	if !root.Is(KindSequence) || len(root.Children) != 3 ||
		!root.Child(1).Is(KindSequence) || !root.Child(2).Is(KindBitString) {
		return &FormatError{Field: "der", Err: errors.New("not a CertificationRequest")}
	}

	info := root.Child(0)
	if !info.Is(KindSequence) || len(info.Children) < 3 || len(info.Children) > 4 ||
		!info.Child(0).Is(KindInteger) || !info.Child(2).Is(KindSequence) {
		return &FormatError{Field: "certificationRequestInfo", Err: errors.New("unexpected structure")}
	}

	if err := d.loadSubject(info.Child(1)); err != nil {
		return &FormatError{Field: "subject", Err: err}
	}

	if attrs := info.Child(3); attrs != nil {
		if !attrs.IsContext(0) || !attrs.Constructed() {
			return &FormatError{Field: "attributes", Err: fmt.Errorf("expected [0] SET OF Attribute, got %s", attrs.Kind)}
		}
		if err := d.loadAttributes(attrs); err != nil {
			return err
		}
	}
	return nil
}

func (d *DecodedCSR) loadSubject(name *Node) error {
	if !name.Is(KindSequence) {
		return fmt.Errorf("expected SEQUENCE, got %s", name.kindName())
	}
	for _, rdn := range name.Children {
		if !rdn.Is(KindSet) {
			return fmt.Errorf("expected RDN SET, got %s", rdn.Kind)
		}
		for _, atv := range rdn.Children {
			if !atv.Is(KindSequence) || len(atv.Children) != 2 {
				return errors.New("malformed AttributeTypeAndValue")
			}
			oid, err := atv.Child(0).OID()
			if err != nil {
				return err
			}
			if d.hasCN || !oid.Equal(oidCommonName) {
				continue
			}
			d.commonName, err = atv.Child(1).Text()
			if err != nil {
				return fmt.Errorf("commonName: %w", err)
			}
			d.hasCN = true
		}
	}
	return nil
}

func (d *DecodedCSR) loadAttributes(attrs *Node) error {
	for _, attr := range attrs.Children {
		if !attr.Is(KindSequence) || len(attr.Children) != 2 || !attr.Child(1).Is(KindSet) {
			return &FormatError{Field: "attributes", Err: errors.New("malformed Attribute")}
		}
		oid, err := attr.Child(0).OID()
		if err != nil {
			return &FormatError{Field: "attributes", Err: err}
		}
		if !oid.Equal(oidExtensionRequest) {
			continue
		}

		exts := attr.Child(1).Child(0)
		if !exts.Is(KindSequence) {
			return &FormatError{Field: "extensionRequest", Err: errors.New("expected Extensions SEQUENCE")}
		}
		for _, ext := range exts.Children {
			if err := d.loadExtension(ext); err != nil {
				return err
			}
		}
	}
	return nil
}

//	Extension ::= SEQUENCE {
//	    extnID    OBJECT IDENTIFIER,
//	    critical  BOOLEAN DEFAULT FALSE,
//	    extnValue OCTET STRING }
func (d *DecodedCSR) loadExtension(ext *Node) error {
	n := len(ext.Children)
	if !ext.Is(KindSequence) || n < 2 || n > 3 || (n == 3 && !ext.Child(1).Is(KindBoolean)) {
		return &FormatError{Field: "extensionRequest", Err: errors.New("malformed Extension")}
	}
	oid, err := ext.Child(0).OID()
	if err != nil {
		return &FormatError{Field: "extensionRequest", Err: err}
	}
	if !oid.Equal(oidSubjectAltName) {
		return nil
	}

	value := ext.Child(n - 1)
	if !value.Is(KindOctetString) {
		return &FormatError{Field: "subjectAltName", Err: errors.New("extnValue is not an OCTET STRING")}
	}
	names, err := ParseDER(value.Content)
	if err != nil {
		return &FormatError{Field: "subjectAltName", Err: err}
	}
	if !names.Is(KindSequence) {
		return &FormatError{Field: "subjectAltName", Err: errors.New("expected GeneralNames SEQUENCE")}
	}
	for _, gn := range names.Children {
		san, err := generalName(gn)
		if err != nil {
			return &FormatError{Field: "subjectAltName", Err: err}
		}
		d.altNames = append(d.altNames, san)
	}
	return nil
}

func generalName(n *Node) (SAN, error) {
	if !n.Is(KindContextSpecific) || n.Number() > uint8(RegisteredID) {
		return SAN{}, fmt.Errorf("unexpected GeneralName tag %#x", uint8(n.Tag))
	}
	san := SAN{Type: NameType(n.Number())}

	var err error
	switch san.Type {
	case RFC822Name, DNSName, URI:
		san.Value, err = ascii(n.Content)
	case IPAddress:
		addr, ok := netip.AddrFromSlice(n.Content)
		if !ok {
			return SAN{}, fmt.Errorf("invalid IP address length %d", len(n.Content))
		}
		san.Value = addr.String()
	case RegisteredID:
		san.Value, err = implicitOID(n.Content)
	case DirectoryName:
		san.Value, err = directoryName(n)
	default:
		san.Value = hex.EncodeToString(n.Content)
	}
	if err != nil {
		return SAN{}, fmt.Errorf("%s: %w", san.Type, err)
	}
	return san, nil
}

func implicitOID(content []byte) (string, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.OBJECT_IDENTIFIER, func(b *cryptobyte.Builder) { b.AddBytes(content) })
	der, err := b.Bytes()
	if err != nil {
		return "", err
	}
	var oid asn1.ObjectIdentifier
	s := cryptobyte.String(der)
	if !s.ReadASN1ObjectIdentifier(&oid) {
		return "", errors.New("malformed OBJECT IDENTIFIER")
	}
	return oid.String(), nil
}

// directoryName is [4] EXPLICIT Name.
func directoryName(n *Node) (string, error) {
	name := n.Child(0)
	if len(n.Children) != 1 || !name.Is(KindSequence) {
		return "", errors.New("expected Name SEQUENCE")
	}
	var rdns pkix.RDNSequence
	if _, err := asn1.Unmarshal(name.Raw, &rdns); err != nil {
		return "", err
	}
	return rdns.String(), nil
}

// PEM returns the text Decode was given.
func (d *DecodedCSR) PEM() string {
	return d.pem
}

// CommonName returns the first common name of the subject.
func (d *DecodedCSR) CommonName() (string, bool) {
	return d.commonName, d.hasCN
}

// SubjectAltNames yields the subject alternative names in the order they were
// encoded. When types are given, only names of those types are yielded.
func (d *DecodedCSR) SubjectAltNames(types ...NameType) iter.Seq[SAN] {
	return func(yield func(SAN) bool) {
		for _, san := range d.altNames {
			if len(types) > 0 && !slices.Contains(types, san.Type) {
				continue
			}
			if !yield(san) {
				return
			}
		}
	}
}

// DNSNames collects the dNSName entries.
func (d *DecodedCSR) DNSNames() []string {
	var names []string
	for san := range d.SubjectAltNames(DNSName) {
		names = append(names, san.Value)
	}
	return names
}
