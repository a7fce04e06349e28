// Package archive writes and restores .tar.gz snapshots of a MUD's data:
// the database, the welcome banner and the configuration files.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Entry kinds recorded in the manifest.
const (
	KindData = "data"
	KindText = "text"
	KindConf = "conf"
)

const manifestName = "manifest.json"

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int              `json:"version"`
	Timestamp string           `json:"timestamp"`
	MudName   string           `json:"mud_name"`
	Storage   string           `json:"storage"`
	Rooms     int              `json:"rooms"`
	Files     map[string]Entry `json:"files"`
}

// Entry describes one file within the archive.
type Entry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Kind   string `json:"kind"`
}

// Params holds the inputs for one archive.
type Params struct {
	Dir      string                 // output directory
	Snapshot func(dst string) error // writes a consistent database copy to dst
	DataName string                 // base name for the snapshot, e.g. "mud.db"
	Storage  string                 // "sqlite" or "bolt"
	Text     []string               // banner and other text files
	Conf     []string               // config and alias files
	MudName  string
	Rooms    int
}

// Create writes an archive into p.Dir and returns its path. Missing text
// and config files are skipped.
func Create(p Params) (string, error) {
	if p.Snapshot == nil || p.DataName == "" {
		return "", fmt.Errorf("archive: no database snapshot configured")
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.Dir, err)
	}

	tmpDir, err := os.MkdirTemp("", "mud-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	staged := filepath.Join(tmpDir, p.DataName)
	if err := p.Snapshot(staged); err != nil {
		return "", fmt.Errorf("archive: snapshot: %w", err)
	}

	now := time.Now()
	path := filepath.Join(p.Dir, fmt.Sprintf("archive-%s.tar.gz", now.Format("20060102-150405.000")))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", path, err)
	}

	m := Manifest{
		Version:   1,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		MudName:   p.MudName,
		Storage:   p.Storage,
		Rooms:     p.Rooms,
		Files:     make(map[string]Entry),
	}
	if err := writeTar(out, &m, staged, p); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("archive: close %s: %w", path, err)
	}
	return path, nil
}

func writeTar(w io.Writer, m *Manifest, staged string, p Params) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	add := func(src, name, kind string) error {
		e, err := addFile(tw, src, name)
		if err != nil {
			return err
		}
		e.Kind = kind
		m.Files[name] = e
		return nil
	}

	if err := add(staged, "data/"+p.DataName, KindData); err != nil {
		return err
	}
	for _, group := range []struct {
		kind  string
		paths []string
	}{{KindText, p.Text}, {KindConf, p.Conf}} {
		for _, src := range group.paths {
			if src == "" {
				continue
			}
			if _, err := os.Stat(src); err != nil {
				continue
			}
			if err := add(src, group.kind+"/"+filepath.Base(src), group.kind); err != nil {
				return err
			}
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestName,
		Size:    int64(len(data)),
		Mode:    0o644,
		ModTime: time.Now(),
	}); err != nil {
		return fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("archive: write manifest: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: close tar: %w", err)
	}
	return gw.Close()
}

// addFile copies src into the tar stream as name and returns its checksum.
func addFile(tw *tar.Writer, src, name string) (Entry, error) {
	f, err := os.Open(src)
	if err != nil {
		return Entry{}, fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Entry{}, fmt.Errorf("archive: stat %s: %w", src, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    0o644,
		ModTime: info.ModTime(),
	}); err != nil {
		return Entry{}, fmt.Errorf("archive: header %s: %w", name, err)
	}

	h := sha256.New()
	n, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return Entry{}, fmt.Errorf("archive: write %s: %w", name, err)
	}
	return Entry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
