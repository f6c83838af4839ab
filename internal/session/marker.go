package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Marker is the on-disk record tied to one output target. It exists for
// mutual exclusion and resume bookkeeping only; the format is internal.
type Marker struct {
	TargetPath string    `json:"target_path"`
	SessionID  string    `json:"session_id"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	VariantIDs []string  `json:"variant_ids,omitempty"`
}

func readMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session marker: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("parse session marker: %w", err)
	}
	return &marker, nil
}

func writeMarker(path string, marker *Marker) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session marker: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session marker: %w", err)
	}
	return nil
}
