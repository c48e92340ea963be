// Package ingest is the XMLTV ingestion pipeline: download the feed as a
// stream, pull-parse it, drop unsafe or malformed records, batch the rest
// into the schedule store, then prune expired programs. A run never holds
// the whole feed in memory: records flow from the HTTP body through the
// parser into fixed-size store batches.
//
// Failure taxonomy: transport problems (connect error, non-2xx) wrap
// ErrFeedUnavailable and are worth retrying with backoff; a parse or
// storage failure mid-stream ends the run as failed, keeping the batches
// already flushed. The next run heals the rest through upserts.
package ingest

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/snapetech/iptvguide/internal/httpclient"
	"github.com/snapetech/iptvguide/internal/metrics"
	"github.com/snapetech/iptvguide/internal/safetext"
	"github.com/snapetech/iptvguide/internal/safeurl"
	"github.com/snapetech/iptvguide/internal/store"
	"github.com/snapetech/iptvguide/internal/xmltv"
)

// ErrFeedUnavailable marks transport-level failures: the caller should back
// off and retry instead of treating the run as fatally broken.
var ErrFeedUnavailable = errors.New("ingest: feed unavailable")

const (
	defaultBatchSize = 100
	defaultRetention = 24 * time.Hour
	userAgent        = "iptv-guide/1.0"
)

// Storage is the slice of the schedule store the pipeline writes.
type Storage interface {
	UpsertChannels(ctx context.Context, channels []store.Channel) error
	UpsertPrograms(ctx context.Context, programs []store.Program) error
	DeleteProgramsOlderThan(ctx context.Context, cutoffMS int64) (int64, error)
}

// Syncer runs feed ingestions. Zero values get safe defaults on first use.
// A Syncer itself is not concurrency-safe; overlap suppression belongs to
// the trigger that schedules runs.
type Syncer struct {
	FeedURL   string
	Store     Storage
	Filter    *safetext.Filter // nil = no content filtering
	Client    *http.Client
	BatchSize int
	Retention time.Duration
	StatePath string        // conditional-GET checkpoint; "" disables
	Limiter   *rate.Limiter // floor between feed downloads; nil = unlimited
	Now       func() time.Time
}

// Result summarizes one run.
type Result struct {
	Channels    int // channel records upserted
	Programmes  int // program records upserted
	Filtered    int // dropped by the content safety denylist
	Skipped     int // malformed records dropped (bad timestamps, end before start, no channel)
	Pruned      int64
	NotModified bool
	Duration    time.Duration
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sync performs one full ingestion run. Idempotent: the same feed synced
// twice leaves identical query results (upserts, stable dedup keys).
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	started := time.Now()
	res, err := s.sync(ctx)
	res.Duration = time.Since(started)
	metrics.SyncDuration.Observe(res.Duration.Seconds())
	switch {
	case err == nil && res.NotModified:
		metrics.SyncRuns.WithLabelValues("not_modified").Inc()
	case err == nil:
		metrics.SyncRuns.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrFeedUnavailable):
		metrics.SyncRuns.WithLabelValues("retryable").Inc()
	default:
		metrics.SyncRuns.WithLabelValues("failed").Inc()
	}
	return res, err
}

func (s *Syncer) sync(ctx context.Context) (Result, error) {
	var res Result
	if !safeurl.IsHTTPOrHTTPS(s.FeedURL) {
		return res, fmt.Errorf("ingest: feed URL %q is not http(s)", s.FeedURL)
	}
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return res, fmt.Errorf("ingest: rate limit wait: %w", err)
		}
	}

	state := loadFeedState(s.StatePath)
	body, notModified, newState, err := s.fetch(ctx, state)
	if err != nil {
		return res, err
	}
	if notModified {
		res.NotModified = true
		state.FetchedAt = s.now()
		if err := saveFeedState(s.StatePath, state); err != nil {
			log.Printf("ingest: save feed state: %v", err)
		}
		log.Printf("ingest: feed unchanged (304), skipping parse")
		return res, nil
	}
	defer body.Close()

	b := batcher{
		ctx:       ctx,
		store:     s.Store,
		filter:    s.Filter,
		batchSize: s.BatchSize,
	}
	if b.batchSize <= 0 {
		b.batchSize = defaultBatchSize
	}

	stats, err := xmltv.Parse(body, xmltv.Handler{
		OnChannel:   b.onChannel,
		OnProgramme: b.onProgramme,
	})
	if err != nil {
		// Terminal for this run. Batches already flushed stay put; the next
		// run re-upserts them harmlessly.
		return res, fmt.Errorf("ingest: %w", err)
	}
	if err := b.flushAll(); err != nil {
		return res, fmt.Errorf("ingest: %w", err)
	}

	cutoff := s.now().Add(-s.retention()).UnixMilli()
	pruned, err := s.Store.DeleteProgramsOlderThan(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("ingest: %w", err)
	}
	metrics.ProgramsPruned.Add(float64(pruned))

	newState.FetchedAt = s.now()
	if err := saveFeedState(s.StatePath, newState); err != nil {
		log.Printf("ingest: save feed state: %v", err)
	}

	res.Channels = b.channelsUpserted
	res.Programmes = b.programmesUpserted
	res.Filtered = b.filtered
	res.Skipped = b.rejected + stats.Skipped
	res.Pruned = pruned
	metrics.RecordsSkipped.Add(float64(stats.Skipped))
	log.Printf("ingest: sync done: %d channels, %d programmes upserted; %d filtered, %d skipped, %d pruned",
		res.Channels, res.Programmes, res.Filtered, res.Skipped, res.Pruned)
	return res, nil
}

// fetch downloads the feed. Returns a decoded body stream, or
// notModified=true when the conditional GET hit a 304.
func (s *Syncer) fetch(ctx context.Context, prior feedState) (body io.ReadCloser, notModified bool, newState feedState, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.FeedURL, nil)
	if err != nil {
		return nil, false, newState, fmt.Errorf("ingest: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/xml,text/xml,*/*")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if s.StatePath != "" {
		if prior.ETag != "" {
			req.Header.Set("If-None-Match", prior.ETag)
		}
		if prior.LastModified != "" {
			req.Header.Set("If-Modified-Since", prior.LastModified)
		}
	}

	client := s.Client
	if client == nil {
		client = httpclient.WithTimeout(45 * time.Second)
	}
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.FeedRetryPolicy)
	if err != nil {
		return nil, false, newState, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		return nil, true, prior, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, false, newState, fmt.Errorf("%w: status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	decoded, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		resp.Body.Close()
		return nil, false, newState, err
	}
	newState = feedState{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	return &readCloser{r: decoded, c: resp.Body}, false, newState, nil
}

// decodeBody unwraps the feed's content encoding. Encoding-less gzip is
// sniffed by magic bytes: many guide hosts serve ".xml.gz" files straight.
func decodeBody(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		buf := bufio.NewReader(r)
		magic, err := buf.Peek(2)
		if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
			gz, err := gzip.NewReader(buf)
			if err != nil {
				return nil, fmt.Errorf("ingest: gzip feed: %w", err)
			}
			return gz, nil
		}
		return buf, nil
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("ingest: gzip feed: %w", err)
		}
		return gz, nil
	case "br":
		return brotli.NewReader(r), nil
	default:
		return nil, fmt.Errorf("ingest: unsupported content encoding %q", encoding)
	}
}

type readCloser struct {
	r io.Reader
	c io.Closer
}

func (rc *readCloser) Read(p []byte) (int, error) { return rc.r.Read(p) }
func (rc *readCloser) Close() error               { return rc.c.Close() }

func (s *Syncer) retention() time.Duration {
	if s.Retention > 0 {
		return s.Retention
	}
	return defaultRetention
}

// batcher buffers channels and programs separately and flushes a buffer to
// the store whenever it reaches batchSize. Each flush is one store
// transaction; a flush error aborts the parse.
type batcher struct {
	ctx       context.Context
	store     Storage
	filter    *safetext.Filter
	batchSize int

	channels   []store.Channel
	programmes []store.Program

	channelsUpserted   int
	programmesUpserted int
	filtered           int
	rejected           int
}

func (b *batcher) onChannel(c xmltv.Channel) error {
	if c.ID == "" {
		b.rejected++
		metrics.RecordsSkipped.Inc()
		return nil
	}
	if b.filter.Blocked(c.DisplayName) {
		b.filtered++
		metrics.RecordsFiltered.Inc()
		return nil
	}
	b.channels = append(b.channels, store.Channel{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		IconURL:     c.IconSrc,
	})
	if len(b.channels) >= b.batchSize {
		return b.flushChannels()
	}
	return nil
}

func (b *batcher) onProgramme(p xmltv.Programme) error {
	startMS := p.Start.UnixMilli()
	endMS := p.Stop.UnixMilli()
	if p.Title == "" || endMS <= startMS {
		b.rejected++
		metrics.RecordsSkipped.Inc()
		return nil
	}
	if b.filter.Blocked(p.Title, p.Description, p.Category) {
		b.filtered++
		metrics.RecordsFiltered.Inc()
		return nil
	}
	b.programmes = append(b.programmes, store.Program{
		ChannelID:   p.ChannelID,
		Title:       p.Title,
		Description: p.Description,
		StartMS:     startMS,
		EndMS:       endMS,
		Category:    p.Category,
	})
	if len(b.programmes) >= b.batchSize {
		return b.flushProgrammes()
	}
	return nil
}

func (b *batcher) flushChannels() error {
	if len(b.channels) == 0 {
		return nil
	}
	if err := b.store.UpsertChannels(b.ctx, b.channels); err != nil {
		return err
	}
	b.channelsUpserted += len(b.channels)
	metrics.ChannelsUpserted.Add(float64(len(b.channels)))
	b.channels = b.channels[:0]
	return nil
}

func (b *batcher) flushProgrammes() error {
	if len(b.programmes) == 0 {
		return nil
	}
	if err := b.store.UpsertPrograms(b.ctx, b.programmes); err != nil {
		return err
	}
	b.programmesUpserted += len(b.programmes)
	metrics.ProgramsUpserted.Add(float64(len(b.programmes)))
	b.programmes = b.programmes[:0]
	return nil
}

// flushAll drains both buffers at end of stream.
func (b *batcher) flushAll() error {
	if err := b.flushChannels(); err != nil {
		return err
	}
	return b.flushProgrammes()
}
