package cert

import (
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
)

// Bundle is a certificate retrieved from the portal together with the
// intermediate that issued it.
type Bundle struct {
	CommonName      string
	CertificatePEM  string
	IntermediatePEM string
}

// ChainString returns the certificate followed by the intermediate.
func (cb *Bundle) ChainString() string {
	return joinPEM(cb.CertificatePEM, cb.IntermediatePEM)
}

// Certificates parses both PEM blocks.
func (cb *Bundle) Certificates() (*x509.Certificate, *x509.Certificate, error) {
	leaf, err := certcrypto.ParsePEMCertificate([]byte(cb.CertificatePEM))
	if err != nil {
		return nil, nil, fmt.Errorf("parse certificate: %w", err)
	}
	intermediate, err := certcrypto.ParsePEMCertificate([]byte(cb.IntermediatePEM))
	if err != nil {
		return nil, nil, fmt.Errorf("parse intermediate: %w", err)
	}
	return leaf, intermediate, nil
}

// BundleFromStrings validates the PEM text of a stored bundle.
func BundleFromStrings(cn string, certificate string, intermediate string) (*Bundle, error) {
	cb := &Bundle{CommonName: cn}
	var err error
	cb.CertificatePEM, err = certificateText(entryCertificate, []byte(certificate))
	if err != nil {
		return nil, err
	}
	cb.IntermediatePEM, err = certificateText(entryIntermediate, []byte(intermediate))
	if err != nil {
		return nil, err
	}
	return cb, nil
}

func joinPEM(blocks ...string) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b == "" {
			continue
		}
		sb.WriteString(b)
		if !strings.HasSuffix(b, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
