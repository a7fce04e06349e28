package archive

import (
	"context"
	"log"
	"time"
)

// Run creates an archive every interval and prunes the directory down to
// retain archives, until ctx is cancelled. params is called before each
// run so counts in the manifest are current.
func Run(ctx context.Context, interval time.Duration, retain int, params func() Params) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := params()
			path, err := Create(p)
			if err != nil {
				log.Printf("archive: ERROR: %v", err)
				continue
			}
			log.Printf("archive: wrote %s", path)
			if n, err := Prune(p.Dir, retain); err != nil {
				log.Printf("archive: WARNING: prune: %v", err)
			} else if n > 0 {
				log.Printf("archive: pruned %d old archive(s)", n)
			}
		}
	}
}
