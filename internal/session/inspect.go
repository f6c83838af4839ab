package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"trackweave/internal/config"
	"trackweave/internal/services"
)

// Inspect reads a target's session marker and variant records without taking
// the lock, for read-only reporting while a download may be running.
func Inspect(ctx context.Context, cfg *config.Config, targetPath string) (*Marker, []VariantRecord, error) {
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, "session", "inspect", "resolve target path", err)
	}

	dir := filepath.Join(cfg.Paths.StagingDir, "sessions", targetSlug(absTarget))
	marker, err := readMarker(filepath.Join(dir, "session.json"))
	if err != nil {
		return nil, nil, err
	}
	if marker == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "session", "inspect",
			fmt.Sprintf("no session recorded for %s", absTarget), nil)
	}

	dbPath := filepath.Join(dir, "session.db")
	if _, err := os.Stat(dbPath); err != nil {
		return marker, nil, nil
	}
	store, err := OpenStore(dbPath)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	records, err := store.ListVariants(ctx, marker.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return marker, records, nil
}
