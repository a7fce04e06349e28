package archive

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// Info holds metadata about an existing archive file.
type Info struct {
	Path      string
	Size      int64
	Timestamp string // from the manifest, or the file's mod time
	MudName   string
	Rooms     int
}

// List scans dir for archives and returns them newest first.
func List(dir string) ([]Info, error) {
	pattern := filepath.Join(dir, "*.tar.gz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	var out []Info
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		info := Info{
			Path:      path,
			Size:      st.Size(),
			Timestamp: st.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		}
		if m, err := readManifest(path); err == nil {
			info.Timestamp = m.Timestamp
			info.MudName = m.MudName
			info.Rooms = m.Rooms
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// Prune deletes all but the newest keep archives in dir and returns how
// many were removed. keep <= 0 keeps everything.
func Prune(dir string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	list, err := List(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range list[min(keep, len(list)):] {
		if err := os.Remove(info.Path); err != nil {
			log.Printf("archive: WARNING: prune %s: %v", info.Path, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// readManifest extracts manifest.json from an archive.
func readManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("archive: %s has no manifest", path)
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name != manifestName {
			continue
		}
		var m Manifest
		if err := json.NewDecoder(tr).Decode(&m); err != nil {
			return nil, err
		}
		return &m, nil
	}
}
