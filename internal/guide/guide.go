// Package guide turns stored schedule rows into what a player UI needs:
// per-channel program lists annotated with live / catch-up state relative
// to a caller-supplied "now". It is a pure read-side projection; nothing
// here writes to the schedule store.
package guide

import (
	"context"
	"fmt"

	"github.com/snapetech/iptvguide/internal/metrics"
	"github.com/snapetech/iptvguide/internal/store"
)

const dayMS = 86_400_000

// PlaceholderTitle is the synthetic entry a caller may show for channels
// with no stored programs in the requested window.
const PlaceholderTitle = "No Program Info"

// ArchivePolicy is a channel's catch-up policy from the channel lineup.
type ArchivePolicy struct {
	Enabled bool
	Days    int // retention window for catch-up playback
}

// PolicyFunc resolves the archive policy for an EPG channel id. A nil
// PolicyFunc disables catch-up everywhere.
type PolicyFunc func(channelID string) ArchivePolicy

// Projection is one program as presented to the caller. Never persisted.
type Projection struct {
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	StartMS          int64   `json:"start_ms"`
	EndMS            int64   `json:"end_ms"`
	Live             bool    `json:"live"`
	CatchupAvailable bool    `json:"catchup_available"`
	Progress         float64 `json:"progress"`
}

// Querier is the slice of the schedule store the engine reads.
type Querier interface {
	ProgramsInWindow(ctx context.Context, channelIDs []string, startMS, endMS int64) ([]store.Program, error)
}

// Engine computes program projections over the schedule store.
type Engine struct {
	Store  Querier
	Policy PolicyFunc
}

// ProgramsForChannels returns, for each requested channel id, the programs
// overlapping [windowStartMS, windowEndMS) ordered by start time and
// projected against nowMS. Every requested id gets a map entry; channels
// with nothing stored map to an empty list (callers may substitute
// Placeholder). An empty id set returns an empty map without querying.
func (e *Engine) ProgramsForChannels(ctx context.Context, channelIDs []string, windowStartMS, windowEndMS, nowMS int64) (map[string][]Projection, error) {
	out := make(map[string][]Projection, len(channelIDs))
	if len(channelIDs) == 0 {
		return out, nil
	}
	// De-dup ids so a sloppy caller doesn't widen the IN clause.
	unique := make([]string, 0, len(channelIDs))
	for _, id := range channelIDs {
		if id == "" {
			continue
		}
		if _, ok := out[id]; !ok {
			out[id] = nil
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return map[string][]Projection{}, nil
	}

	programs, err := e.Store.ProgramsInWindow(ctx, unique, windowStartMS, windowEndMS)
	if err != nil {
		return nil, fmt.Errorf("guide: query window: %w", err)
	}
	metrics.GuideQueries.Inc()

	policies := make(map[string]ArchivePolicy, len(unique))
	for _, id := range unique {
		if e.Policy != nil {
			policies[id] = e.Policy(id)
		}
	}
	// Store rows come back ordered by (channel, start), so appending
	// preserves the per-channel start ordering.
	for _, p := range programs {
		out[p.ChannelID] = append(out[p.ChannelID], project(p, nowMS, policies[p.ChannelID]))
	}
	return out, nil
}

// ProgramsForChannel is the single-channel form of ProgramsForChannels.
func (e *Engine) ProgramsForChannel(ctx context.Context, channelID string, windowStartMS, windowEndMS, nowMS int64) ([]Projection, error) {
	m, err := e.ProgramsForChannels(ctx, []string{channelID}, windowStartMS, windowEndMS, nowMS)
	if err != nil {
		return nil, err
	}
	return m[channelID], nil
}

// project classifies one stored program relative to now.
func project(p store.Program, nowMS int64, pol ArchivePolicy) Projection {
	out := Projection{
		Title:       p.Title,
		Description: p.Description,
		StartMS:     p.StartMS,
		EndMS:       p.EndMS,
	}
	out.Live = nowMS >= p.StartMS && nowMS < p.EndMS
	if out.Live && p.EndMS > p.StartMS {
		progress := float64(nowMS-p.StartMS) / float64(p.EndMS-p.StartMS)
		out.Progress = min(max(progress, 0), 1)
	}
	out.CatchupAvailable = catchupAvailable(p, nowMS, pol)
	return out
}

// catchupAvailable: the channel must allow archive playback, the program
// must already be over, its end must fall inside the archive window, and
// the duration must be sane. A program still on air is never catch-up
// eligible even with archive enabled.
func catchupAvailable(p store.Program, nowMS int64, pol ArchivePolicy) bool {
	if !pol.Enabled || pol.Days <= 0 {
		return false
	}
	if p.EndMS > nowMS {
		return false
	}
	if p.EndMS <= p.StartMS {
		return false
	}
	return nowMS-p.EndMS <= int64(pol.Days)*dayMS
}

// Placeholder is the "No Program Info" entry spanning one hour either side
// of now. UI fallback policy for channels with no stored programs; the
// engine never injects it into query results itself.
func Placeholder(nowMS int64) Projection {
	const hourMS = 3_600_000
	return Projection{
		Title:   PlaceholderTitle,
		StartMS: nowMS - hourMS,
		EndMS:   nowMS + hourMS,
		Live:    true,
		// Midway through its synthetic two-hour span by construction.
		Progress: 0.5,
	}
}
