package csr

import (
	encasn1 "encoding/asn1"
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const maxDepth = 64

// Universal string tags that cryptobyte/asn1 has no constants for.
const (
	tagNumericString   = cbasn1.Tag(18)
	tagVisibleString   = cbasn1.Tag(26)
	tagUniversalString = cbasn1.Tag(28)
	tagBMPString       = cbasn1.Tag(30)

	tagClassMask   = cbasn1.Tag(0xc0)
	tagNumberMask  = cbasn1.Tag(0x1f)
	tagConstructed = cbasn1.Tag(0x20)
)

type Kind int

const (
	KindOther Kind = iota
	KindSequence
	KindSet
	KindObjectIdentifier
	KindOctetString
	KindBitString
	KindInteger
	KindBoolean
	KindNull
	KindString
	KindTime
	KindContextSpecific
)

func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "SEQUENCE"
	case KindSet:
		return "SET"
	case KindObjectIdentifier:
		return "OBJECT IDENTIFIER"
	case KindOctetString:
		return "OCTET STRING"
	case KindBitString:
		return "BIT STRING"
	case KindInteger:
		return "INTEGER"
	case KindBoolean:
		return "BOOLEAN"
	case KindNull:
		return "NULL"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindContextSpecific:
		return "context-specific"
	default:
		return "other"
	}
}

type Class uint8

const (
	ClassUniversal       Class = 0
	ClassApplication     Class = 1
	ClassContextSpecific Class = 2
	ClassPrivate         Class = 3
)

// Node is one element of a DER tree. Constructed elements carry their
// decoded children, primitive ones only their content octets.
type Node struct {
	Tag      cbasn1.Tag
	Kind     Kind
	Raw      []byte
	Content  []byte
	Children []*Node
}

// ParseDER decodes exactly one DER element (and everything nested in it).
func ParseDER(der []byte) (*Node, error) {
	s := cryptobyte.String(der)
	n, err := readNode(&s, 0)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, fmt.Errorf("%d trailing bytes after DER element", len(s))
	}
	return n, nil
}

func readNode(s *cryptobyte.String, depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, errors.New("DER nesting too deep")
	}

	var elem, content cryptobyte.String
	var tag cbasn1.Tag
	if !s.ReadAnyASN1Element(&elem, &tag) {
		return nil, errors.New("malformed DER element")
	}
	n := &Node{Tag: tag, Raw: elem, Kind: kindOf(tag)}
	if !elem.ReadAnyASN1(&content, &tag) {
		return nil, errors.New("malformed DER element")
	}
	n.Content = content

	if tag&tagConstructed != 0 {
		for !content.Empty() {
			child, err := readNode(&content, depth+1)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
	}
	return n, nil
}

func kindOf(tag cbasn1.Tag) Kind {
	if Class(tag>>6) == ClassContextSpecific {
		return KindContextSpecific
	}
	switch tag {
	case cbasn1.SEQUENCE:
		return KindSequence
	case cbasn1.SET:
		return KindSet
	case cbasn1.OBJECT_IDENTIFIER:
		return KindObjectIdentifier
	case cbasn1.OCTET_STRING:
		return KindOctetString
	case cbasn1.BIT_STRING:
		return KindBitString
	case cbasn1.INTEGER:
		return KindInteger
	case cbasn1.BOOLEAN:
		return KindBoolean
	case cbasn1.NULL:
		return KindNull
	case cbasn1.UTF8String, cbasn1.PrintableString, cbasn1.T61String, cbasn1.IA5String,
		tagNumericString, tagVisibleString, tagUniversalString, tagBMPString:
		return KindString
	case cbasn1.UTCTime, cbasn1.GeneralizedTime:
		return KindTime
	}
	return KindOther
}

func (n *Node) Class() Class {
	return Class((n.Tag & tagClassMask) >> 6)
}

// Number is the tag number without class and constructed bits.
func (n *Node) Number() uint8 {
	return uint8(n.Tag & tagNumberMask)
}

func (n *Node) Constructed() bool {
	return n.Tag&tagConstructed != 0
}

// Child returns the i'th child or nil when there is none.
func (n *Node) Child(i int) *Node {
	if n == nil || i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

func (n *Node) Is(k Kind) bool {
	return n != nil && n.Kind == k
}

// IsContext reports whether n is the context-specific element [num].
func (n *Node) IsContext(num uint8) bool {
	return n.Is(KindContextSpecific) && n.Number() == num
}

func (n *Node) OID() (encasn1.ObjectIdentifier, error) {
	if !n.Is(KindObjectIdentifier) {
		return nil, fmt.Errorf("expected OBJECT IDENTIFIER, got %s", n.kindName())
	}
	var oid encasn1.ObjectIdentifier
	s := cryptobyte.String(n.Raw)
	if !s.ReadASN1ObjectIdentifier(&oid) {
		return nil, errors.New("malformed OBJECT IDENTIFIER")
	}
	return oid, nil
}

// Text decodes a string element as a DirectoryString (or IA5String) would be.
func (n *Node) Text() (string, error) {
	if !n.Is(KindString) {
		return "", fmt.Errorf("expected a string type, got %s", n.kindName())
	}
	switch n.Tag {
	case cbasn1.UTF8String:
		if !utf8.Valid(n.Content) {
			return "", errors.New("invalid UTF8String")
		}
		return string(n.Content), nil
	case cbasn1.T61String:
		// Teletex is treated as Latin-1, as most encoders do.
		runes := make([]rune, len(n.Content))
		for i, b := range n.Content {
			runes[i] = rune(b)
		}
		return string(runes), nil
	case tagBMPString:
		return decodeBMP(n.Content)
	case tagUniversalString:
		return decodeUniversal(n.Content)
	default:
		return ascii(n.Content)
	}
}

func (n *Node) kindName() string {
	if n == nil {
		return "nothing"
	}
	return n.Kind.String()
}

func ascii(b []byte) (string, error) {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return "", fmt.Errorf("non-ASCII byte 0x%02x in string", c)
		}
	}
	return string(b), nil
}

func decodeBMP(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", errors.New("BMPString has odd length")
	}
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(u)), nil
}

func decodeUniversal(b []byte) (string, error) {
	if len(b)%4 != 0 {
		return "", errors.New("UniversalString length is not a multiple of 4")
	}
	runes := make([]rune, len(b)/4)
	for i := range runes {
		r := rune(b[4*i])<<24 | rune(b[4*i+1])<<16 | rune(b[4*i+2])<<8 | rune(b[4*i+3])
		if !utf8.ValidRune(r) {
			return "", fmt.Errorf("invalid code point %#x in UniversalString", r)
		}
		runes[i] = r
	}
	return string(runes), nil
}
