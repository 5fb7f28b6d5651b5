package cert

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
)

const (
	archiveSuffix        = ".zip"
	intermediateFilename = "1_Intermediate.crt"
	serverArchiveName    = "OtherServer.zip"
	serverLeafPrefix     = "2_"
	serverLeafSuffix     = ".crt"

	serverEntries = 3
	clientEntries = 2

	maxEntrySize = 10 << 20
)

// Layout is the shape of a certificate archive returned by the portal.
type Layout int

const (
	// LayoutServer archives hold an OtherServer.zip with the intermediate
	// and numbered leaf certificates.
	LayoutServer Layout = iota + 1
	// LayoutClientOrObject archives hold the intermediate and one leaf.
	LayoutClientOrObject
)

func (l Layout) String() string {
	switch l {
	case LayoutServer:
		return "server"
	case LayoutClientOrObject:
		return "client-or-object"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// Extract returns the certificate and intermediate in a certificate archive.
// attachmentFilename is the name the portal gave the archive; without the
// .zip suffix it is the certificate's common name.
func Extract(archive []byte, attachmentFilename string) (*Bundle, error) {
	cn, ok := strings.CutSuffix(attachmentFilename, archiveSuffix)
	if !ok || cn == "" {
		return nil, &FormatError{Entry: entryFilename, Err: fmt.Errorf("%q is not a %s file", attachmentFilename, archiveSuffix)}
	}

	zr, err := openArchive(attachmentFilename, archive)
	if err != nil {
		return nil, err
	}

	layout, err := DetectLayout(zr)
	if err != nil {
		var le *LayoutError
		if errors.As(err, &le) {
			le.Archive = attachmentFilename
		}
		return nil, err
	}

	var leaf, intermediate []byte
	switch layout {
	case LayoutServer:
		leaf, intermediate, err = extractServer(zr, cn)
	case LayoutClientOrObject:
		leaf, intermediate, err = extractClientOrObject(zr)
	}
	if err != nil {
		return nil, err
	}

	cb := &Bundle{CommonName: cn}
	cb.CertificatePEM, err = certificateText(entryCertificate, leaf)
	if err != nil {
		return nil, err
	}
	cb.IntermediatePEM, err = certificateText(entryIntermediate, intermediate)
	if err != nil {
		return nil, err
	}
	return cb, nil
}

// DetectLayout picks the layout of an opened certificate archive.
func DetectLayout(zr *zip.Reader) (Layout, error) {
	if entry(zr, serverArchiveName) != nil {
		return LayoutServer, nil
	}
	if len(zr.File) == clientEntries && entry(zr, intermediateFilename) != nil && leafEntry(zr) != nil {
		return LayoutClientOrObject, nil
	}
	return 0, &LayoutError{Entries: entryNames(zr)}
}

func extractServer(zr *zip.Reader, cn string) ([]byte, []byte, error) {
	data, err := readEntry(entry(zr, serverArchiveName))
	if err != nil {
		return nil, nil, &IntegrityError{Entry: serverArchiveName, Err: err}
	}
	inner, err := openArchive(serverArchiveName, data)
	if err != nil {
		return nil, nil, err
	}

	im := entry(inner, intermediateFilename)
	leaf := entry(inner, serverLeafPrefix+cn+serverLeafSuffix)
	if len(inner.File) != serverEntries || im == nil || leaf == nil {
		return nil, nil, &LayoutError{Archive: serverArchiveName, Entries: entryNames(inner)}
	}
	return readPair(leaf, im)
}

func extractClientOrObject(zr *zip.Reader) ([]byte, []byte, error) {
	return readPair(leafEntry(zr), entry(zr, intermediateFilename))
}

func readPair(leaf *zip.File, intermediate *zip.File) ([]byte, []byte, error) {
	l, err := readEntry(leaf)
	if err != nil {
		return nil, nil, &IntegrityError{Entry: leaf.Name, Err: err}
	}
	i, err := readEntry(intermediate)
	if err != nil {
		return nil, nil, &IntegrityError{Entry: intermediate.Name, Err: err}
	}
	return l, i, nil
}

// openArchive opens a zip archive and reads every entry once so that a
// corrupt archive is rejected before any content is used.
func openArchive(name string, b []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, &IntegrityError{Archive: name, Err: err}
	}
	for _, f := range zr.File {
		if _, err := readEntry(f); err != nil {
			return nil, &IntegrityError{Archive: name, Entry: f.Name, Err: err}
		}
	}
	return zr, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("entry is larger than %d bytes", maxEntrySize)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxEntrySize {
		return nil, fmt.Errorf("entry is larger than %d bytes", maxEntrySize)
	}
	// zip skips the check when the stored CRC-32 is zero.
	if crc32.ChecksumIEEE(b) != f.CRC32 {
		return nil, zip.ErrChecksum
	}
	return b, nil
}

func entry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// leafEntry is the first entry that isn't the intermediate.
func leafEntry(zr *zip.Reader) *zip.File {
	for _, f := range zr.File {
		if f.Name != intermediateFilename {
			return f
		}
	}
	return nil
}

func entryNames(zr *zip.Reader) []string {
	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	return names
}
