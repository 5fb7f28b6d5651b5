package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/devon-mar/startssl/cert"
)

const (
	DefaultFilenameFormat = "{name}.crt"

	formatStdout = "-"
	placeholder  = "{name}"
)

// FileStore writes certificates to files named by expanding {name} in
// CertFormat with the common name. A CertFormat of "-" writes to Stdout.
// Intermediates are only written when IntermediateFormat is set.
type FileStore struct {
	CertFormat         string
	IntermediateFormat string
	Stdout             io.Writer
}

func NewFileStore(certFormat string, intermediateFormat string) (*FileStore, error) {
	if certFormat == "" {
		certFormat = DefaultFilenameFormat
	}
	if certFormat != formatStdout && !strings.Contains(certFormat, placeholder) {
		return nil, fmt.Errorf("filename format %q does not contain %s", certFormat, placeholder)
	}
	if intermediateFormat != "" && !strings.Contains(intermediateFormat, placeholder) {
		return nil, fmt.Errorf("intermediate format %q does not contain %s", intermediateFormat, placeholder)
	}
	return &FileStore{CertFormat: certFormat, IntermediateFormat: intermediateFormat, Stdout: os.Stdout}, nil
}

// Filename returns the certificate filename for cn.
func (s *FileStore) Filename(cn string) string {
	return expand(s.CertFormat, cn)
}

// Retrieve implements Store
func (s *FileStore) Retrieve(cn string) (*cert.Bundle, error) {
	if s.CertFormat == formatStdout {
		return nil, nil
	}
	certificate, err := os.ReadFile(s.Filename(cn))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	cb := &cert.Bundle{CommonName: cn, CertificatePEM: string(certificate)}
	if s.IntermediateFormat != "" {
		im, err := os.ReadFile(expand(s.IntermediateFormat, cn))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cb.IntermediatePEM = string(im)
	}
	return cb, nil
}

// Store implements Store
func (s *FileStore) Store(cb *cert.Bundle) error {
	if s.CertFormat == formatStdout {
		_, err := io.WriteString(s.Stdout, cb.CertificatePEM)
		return err
	}
	if err := writeFile(s.Filename(cb.CommonName), cb.CertificatePEM); err != nil {
		return err
	}
	if s.IntermediateFormat != "" {
		return writeFile(expand(s.IntermediateFormat, cb.CommonName), cb.IntermediatePEM)
	}
	return nil
}

func expand(format string, cn string) string {
	return strings.ReplaceAll(format, placeholder, cn)
}

func writeFile(name string, data string) error {
	if dir := filepath.Dir(name); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(name, []byte(data), 0o644)
}
