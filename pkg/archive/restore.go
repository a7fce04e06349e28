package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RestoreParams says where each kind of archived file goes.
type RestoreParams struct {
	Archive  string
	Storage  string // when set, the archive must hold this storage kind
	DataDest string // database file path
	TextDir  string // empty skips text files
	ConfDir  string // empty skips config files
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Manifest *Manifest
	Restored int
	Warnings []string
}

// Restore validates every checksum in the archive and then copies its files
// into place. The database is always replaced. Text and config files are
// only written where no file exists yet.
func Restore(p RestoreParams) (*RestoreResult, error) {
	tmpDir, err := os.MkdirTemp("", "mud-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extract(p.Archive, tmpDir); err != nil {
		return nil, fmt.Errorf("restore: extract: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, manifestName))
	if err != nil {
		return nil, errors.New("restore: archive has no manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("restore: parse manifest: %w", err)
	}

	if p.Storage != "" && m.Storage != p.Storage {
		return nil, fmt.Errorf("restore: archive holds %q storage, want %q", m.Storage, p.Storage)
	}

	for name, e := range m.Files {
		ok, err := checksum(filepath.Join(tmpDir, filepath.FromSlash(name)), e.SHA256)
		if err != nil {
			return nil, fmt.Errorf("restore: checksum %s: %w", name, err)
		}
		if !ok {
			return nil, fmt.Errorf("restore: checksum mismatch for %s", name)
		}
	}

	res := &RestoreResult{Manifest: &m}
	for name, e := range m.Files {
		src := filepath.Join(tmpDir, filepath.FromSlash(name))
		var dst string
		switch e.Kind {
		case KindData:
			if p.DataDest == "" {
				return nil, errors.New("restore: no database destination")
			}
			if err := copyFile(src, p.DataDest); err != nil {
				return nil, fmt.Errorf("restore: copy %s: %w", name, err)
			}
			res.Restored++
			continue
		case KindText:
			dst = p.TextDir
		case KindConf:
			dst = p.ConfDir
		}
		if dst == "" {
			continue
		}
		dst = filepath.Join(dst, filepath.Base(name))
		if _, err := os.Stat(dst); err == nil {
			res.Warnings = append(res.Warnings, "kept existing "+dst)
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("restore: copy %s: %w", name, err)
		}
		res.Restored++
	}
	return res, nil
}

func extract(path, destDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid archive entry: %s", hdr.Name)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}

func checksum(path, want string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == want, nil
}
