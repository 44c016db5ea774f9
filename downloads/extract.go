package downloads

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNoMatch is returned when no archive entry satisfies the match function.
var ErrNoMatch = errors.New("no matching file found in archive")

// ExtractFileFromTarGz copies the first regular file whose name satisfies
// match into destPath.
func ExtractFileFromTarGz(archivePath, destPath string, match func(name string) bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return ErrNoMatch
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !match(hdr.Name) {
			continue
		}
		return writeFile(destPath, tr)
	}
}

// ExtractFileFromZip copies the first file whose name satisfies match into
// destPath.
func ExtractFileFromZip(archivePath, destPath string, match func(name string) bool) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !match(zf.Name) {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in zip: %w", zf.Name, err)
		}
		defer rc.Close()
		return writeFile(destPath, rc)
	}
	return ErrNoMatch
}

func writeFile(destPath string, r io.Reader) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract file: %w", err)
	}
	return out.Close()
}
