package pkgstore

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format is a package archive encoding.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTarZst Format = "tar.zst"
	FormatTarXz  Format = "tar.xz"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatZip, FormatTarZst, FormatTarXz:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown archive format %q", s)
}

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	zstdMagic     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic       = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// DetectFormat sniffs the archive encoding from its leading bytes.
func DetectFormat(data []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(data, zipMagic), bytes.HasPrefix(data, zipEmptyMagic):
		return FormatZip, nil
	case bytes.HasPrefix(data, zstdMagic):
		return FormatTarZst, nil
	case bytes.HasPrefix(data, xzMagic):
		return FormatTarXz, nil
	}
	return "", fmt.Errorf("%w: unrecognised archive format", ErrMalformedPackage)
}

// extract unpacks data into dst, which must exist. Entries that would land
// outside dst, and links, make the package malformed.
func extract(ctx context.Context, data []byte, dst string) error {
	format, err := DetectFormat(data)
	if err != nil {
		return err
	}

	switch format {
	case FormatZip:
		return extractZip(ctx, data, dst)
	case FormatTarZst:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: zstd: %v", ErrMalformedPackage, err)
		}
		defer dec.Close()
		return extractTar(ctx, dec, dst)
	default:
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: xz: %v", ErrMalformedPackage, err)
		}
		return extractTar(ctx, r, dst)
	}
}

func extractZip(ctx context.Context, data []byte, dst string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: zip: %v", ErrMalformedPackage, err)
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := entryPath(dst, f.Name)
		if err != nil {
			return err
		}
		mode := f.FileInfo().Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("%w: zip entry %s: %v", ErrMalformedPackage, f.Name, err)
			}
			err = writeEntry(target, rc)
			rc.Close()
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unsupported entry %s", ErrMalformedPackage, f.Name)
		}
	}
	return nil
}

func extractTar(ctx context.Context, r io.Reader, dst string) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: tar: %v", ErrMalformedPackage, err)
		}

		target, err := entryPath(dst, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
		default:
			return fmt.Errorf("%w: unsupported entry %s", ErrMalformedPackage, hdr.Name)
		}
	}
}

func entryPath(dst, name string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(name, "./"))
	rel = strings.TrimSuffix(rel, string(filepath.Separator))
	if rel == "" || rel == "." {
		return dst, nil
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: entry %q escapes the package root", ErrMalformedPackage, name)
	}
	return filepath.Join(dst, rel), nil
}

func writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", ErrMalformedPackage, filepath.Base(target), err)
	}
	return f.Close()
}

// Pack writes the map directory dir as a package archive. The directory must
// pass the same structure check as Import.
func Pack(dir string, w io.Writer, format Format) error {
	if !IsMapDir(dir) {
		return fmt.Errorf("%w: %s lacks %s or %s", ErrMalformedPackage, dir, InfoFile, ConfigFile)
	}

	switch format {
	case FormatZip:
		return packZip(dir, w)
	case FormatTarZst:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := packTar(dir, enc); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	case FormatTarXz:
		enc, err := xz.NewWriter(w)
		if err != nil {
			return err
		}
		if err := packTar(dir, enc); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown archive format %q", format)
}

// walkFiles visits the regular files under dir with slash-separated
// relative names.
func walkFiles(dir string, fn func(name, path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), path, info)
	})
}

func packZip(dir string, w io.Writer) error {
	zw := zip.NewWriter(w)
	err := walkFiles(dir, func(name, path string, info fs.FileInfo) error {
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		return copyFile(fw, path)
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func packTar(dir string, w io.Writer) error {
	tw := tar.NewWriter(w)
	err := walkFiles(dir, func(name, path string, info fs.FileInfo) error {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		return copyFile(tw, path)
	})
	if err != nil {
		tw.Close()
		return err
	}
	return tw.Close()
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
