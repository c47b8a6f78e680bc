package db

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxDecompressedSize bounds what a .gz upload may expand to.
const maxDecompressedSize = 4 << 30

// validateFilePath checks that path names an existing regular file and
// returns its absolute form.
func validateFilePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("file does not exist: %s", abs)
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", abs)
	}
	return abs, nil
}

// Upload is a resolved database file.
type Upload struct {
	Source DataSource
	// Name is the file name as uploaded, without a .gz suffix.
	Name string
	// Extracted is set when Source.Database is a private decompressed copy
	// that the caller owns and must remove once it is no longer used.
	Extracted bool
}

// FileSource resolves an uploaded database file into a SQLite DataSource.
// A .gz file is decompressed into a new, uniquely named file in uploadDir;
// an existing file is never overwritten. SQL dumps are refused: restoring
// them needs external tooling.
func FileSource(path, uploadDir string) (Upload, error) {
	abs, err := validateFilePath(path)
	if err != nil {
		return Upload{}, err
	}
	up := Upload{Name: filepath.Base(abs)}
	if strings.EqualFold(filepath.Ext(abs), ".gz") {
		up.Name = strings.TrimSuffix(up.Name, filepath.Ext(up.Name))
		if err := checkFileType(up.Name); err != nil {
			return Upload{}, err
		}
		abs, err = gunzipInto(abs, up.Name, uploadDir)
		if err != nil {
			return Upload{}, err
		}
		up.Extracted = true
	} else if err := checkFileType(up.Name); err != nil {
		return Upload{}, err
	}
	up.Source = DataSource{Engine: SQLite, Database: abs}
	return up, nil
}

func checkFileType(name string) error {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".sqlite", ".sqlite3", ".db":
		return nil
	case ".sql", ".dump", ".backup", ".tar":
		return fmt.Errorf("unsupported file type %s: SQL dumps must be restored into a server and attached by connection", ext)
	default:
		return fmt.Errorf("unsupported file type %q", ext)
	}
}

// gunzipInto decompresses src into a new file in dir whose name starts with
// the stem of name and keeps its extension, and returns the new path.
func gunzipInto(src, name, dir string) (string, error) {
	if dir == "" {
		dir = filepath.Dir(src)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("upload dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(src), err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("gzip %s: %w", filepath.Base(src), err)
	}
	defer zr.Close()

	ext := filepath.Ext(name)
	out, err := os.CreateTemp(dir, strings.TrimSuffix(name, ext)+"-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	dst := out.Name()
	n, err := io.Copy(out, io.LimitReader(zr, maxDecompressedSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxDecompressedSize {
		err = fmt.Errorf("decompressed size exceeds %d bytes", int64(maxDecompressedSize))
	}
	if err == nil {
		dst, err = filepath.Abs(dst)
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("gunzip %s: %w", filepath.Base(src), err)
	}
	return dst, nil
}
