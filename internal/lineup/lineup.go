// Package lineup holds the provider channel lineup: the mapping from
// provider stream ids to EPG channel ids plus each channel's catch-up
// archive policy. The lineup comes from the channel catalog (an external
// collaborator) and is persisted as a JSON file; the guide service only
// reads it. Provider ids and EPG ids are independent identifier spaces;
// a channel may legitimately have no EPG id at all.
package lineup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Channel is one lineup entry.
type Channel struct {
	StreamID string `json:"stream_id"` // provider-side id, used for playback
	Name     string `json:"name"`
	// EPGChannelID is the XMLTV channel id ("tvg-id"). Empty means the
	// channel is not guide-linked and only gets placeholder projections.
	EPGChannelID   string `json:"epg_channel_id,omitempty"`
	ArchiveEnabled bool   `json:"archive_enabled,omitempty"`
	ArchiveDays    int    `json:"archive_days,omitempty"`
}

// Lineup is a mutex-guarded channel list, safe for concurrent readers while
// a reload replaces the set.
type Lineup struct {
	mu       sync.RWMutex
	Channels []Channel `json:"channels"`
}

func New() *Lineup {
	return &Lineup{}
}

// Load reads a lineup JSON file.
func Load(path string) (*Lineup, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("lineup load: %w", err)
	}
	l := New()
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("lineup load %s: %w", path, err)
	}
	return l, nil
}

// Save writes the lineup atomically (temp file + rename) so a concurrent
// reader never sees a torn file.
func (l *Lineup) Save(path string) error {
	l.mu.RLock()
	data, err := json.MarshalIndent(l, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return err
	}
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".lineup-*.json.tmp")
	if err != nil {
		return fmt.Errorf("lineup save: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("lineup save: write: %w", writeErr)
		}
		return fmt.Errorf("lineup save: close: %w", closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("lineup save: rename: %w", err)
	}
	return nil
}

// Replace swaps in a new channel set.
func (l *Lineup) Replace(channels []Channel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Channels = channels
}

// All returns a copy of the channel list.
func (l *Lineup) All() []Channel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Channel, len(l.Channels))
	copy(out, l.Channels)
	return out
}

// EPGChannelIDs returns the unique EPG channel ids of guide-linked channels,
// in lineup order. This is the default channel set for guide queries.
func (l *Lineup) EPGChannelIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]bool, len(l.Channels))
	var out []string
	for _, c := range l.Channels {
		if c.EPGChannelID == "" || seen[c.EPGChannelID] {
			continue
		}
		seen[c.EPGChannelID] = true
		out = append(out, c.EPGChannelID)
	}
	return out
}

// ByEPGID finds the first lineup channel linked to the given EPG channel id.
func (l *Lineup) ByEPGID(epgID string) (Channel, bool) {
	if epgID == "" {
		return Channel{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.Channels {
		if c.EPGChannelID == epgID {
			return c, true
		}
	}
	return Channel{}, false
}

// Archive returns the archive policy for an EPG channel id. Unknown
// channels get the zero policy (catch-up disabled).
func (l *Lineup) Archive(epgID string) (enabled bool, days int) {
	c, ok := l.ByEPGID(epgID)
	if !ok {
		return false, 0
	}
	return c.ArchiveEnabled, c.ArchiveDays
}
