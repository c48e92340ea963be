package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/ingest"
	"github.com/snapetech/iptvguide/internal/lineup"
	"github.com/snapetech/iptvguide/internal/store"
	"github.com/snapetech/iptvguide/internal/trigger"
)

type fakeQuerier struct {
	programs []store.Program
	// last query, for asserting param plumbing
	gotIDs   []string
	gotStart int64
	gotEnd   int64
}

func (f *fakeQuerier) ProgramsInWindow(ctx context.Context, ids []string, startMS, endMS int64) ([]store.Program, error) {
	f.gotIDs, f.gotStart, f.gotEnd = ids, startMS, endMS
	var out []store.Program
	for _, p := range f.programs {
		for _, id := range ids {
			if p.ChannelID == id && p.EndMS > startMS && p.StartMS < endMS {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type fakeStats struct{ stats []store.ChannelStat }

func (f *fakeStats) ChannelStats(ctx context.Context) ([]store.ChannelStat, error) {
	return f.stats, nil
}

func newTestServer(q *fakeQuerier, tr *trigger.Trigger) *Server {
	ln := lineup.New()
	ln.Replace([]lineup.Channel{
		{StreamID: "s1", Name: "One", EPGChannelID: "bbc1.uk", ArchiveEnabled: true, ArchiveDays: 7},
		{StreamID: "s2", Name: "Two", EPGChannelID: "itv.uk"},
		{StreamID: "s3", Name: "Unlinked"},
	})
	engine := &guide.Engine{
		Store: q,
		Policy: func(id string) guide.ArchivePolicy {
			enabled, days := ln.Archive(id)
			return guide.ArchivePolicy{Enabled: enabled, Days: days}
		},
	}
	if tr == nil {
		tr = &trigger.Trigger{Sync: func(ctx context.Context) (ingest.Result, error) {
			return ingest.Result{}, nil
		}}
	}
	stats := &fakeStats{stats: []store.ChannelStat{
		{ChannelID: "bbc1.uk", DisplayName: "BBC One", Programs: 2, EarliestMS: 1000, LatestMS: 9000},
		{ChannelID: "itv.uk", DisplayName: "ITV", Programs: 0},
	}}
	return New(engine, stats, ln, tr)
}

func TestGuide_defaultsToLineupChannels(t *testing.T) {
	now := int64(5_000_000)
	q := &fakeQuerier{programs: []store.Program{
		{ChannelID: "bbc1.uk", Title: "News", StartMS: now - 1000, EndMS: now + 1000},
	}}
	srv := httptest.NewServer(newTestServer(q, nil).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/guide?now=5000000")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Channels map[string][]guide.Projection `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	// Only EPG-linked lineup channels are queried.
	if len(body.Channels) != 2 {
		t.Fatalf("channels = %v, want bbc1.uk and itv.uk", body.Channels)
	}
	if got := body.Channels["bbc1.uk"]; len(got) != 1 || got[0].Title != "News" {
		t.Errorf("bbc1.uk = %+v", got)
	}
	if !body.Channels["bbc1.uk"][0].Live {
		t.Error("program spanning now must be live")
	}
	// Empty channel gets the placeholder entry.
	itv := body.Channels["itv.uk"]
	if len(itv) != 1 || itv[0].Title != guide.PlaceholderTitle {
		t.Errorf("itv.uk = %+v, want placeholder", itv)
	}
	// Default window is now-1h .. now+24h.
	if q.gotStart != now-3_600_000 || q.gotEnd != now+24*3_600_000 {
		t.Errorf("window = [%d, %d)", q.gotStart, q.gotEnd)
	}
}

func TestGuide_explicitParams(t *testing.T) {
	q := &fakeQuerier{}
	srv := httptest.NewServer(newTestServer(q, nil).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/guide?channels=a,b&from=100&to=200&now=150")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(q.gotIDs) != 2 || q.gotIDs[0] != "a" || q.gotIDs[1] != "b" {
		t.Errorf("ids = %v", q.gotIDs)
	}
	if q.gotStart != 100 || q.gotEnd != 200 {
		t.Errorf("window = [%d, %d)", q.gotStart, q.gotEnd)
	}
}

func TestGuide_badParams(t *testing.T) {
	srv := httptest.NewServer(newTestServer(&fakeQuerier{}, nil).Router())
	defer srv.Close()

	for _, query := range []string{"?from=abc", "?now=later", "?from=200&to=100"} {
		resp, err := http.Get(srv.URL + "/guide" + query)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestGuideChannel(t *testing.T) {
	now := int64(5_000_000)
	q := &fakeQuerier{programs: []store.Program{
		{ChannelID: "bbc1.uk", Title: "Film", StartMS: now - 8000, EndMS: now - 4000},
	}}
	srv := httptest.NewServer(newTestServer(q, nil).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/guide/bbc1.uk?now=5000000&from=0&to=10000000")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Channel  string             `json:"channel"`
		Programs []guide.Projection `json:"programs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Channel != "bbc1.uk" || len(body.Programs) != 1 {
		t.Fatalf("body = %+v", body)
	}
	// bbc1.uk has archive enabled in the lineup and the program just ended.
	if !body.Programs[0].CatchupAvailable {
		t.Error("finished program on an archive channel must be catch-up eligible")
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(newTestServer(&fakeQuerier{}, nil).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Channels int `json:"channels"`
		Programs int `json:"programs"`
		Lineup   int `json:"lineup"`
		Sync     struct {
			Running bool `json:"running"`
		} `json:"sync"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Channels != 2 || body.Programs != 2 || body.Lineup != 3 {
		t.Errorf("body = %+v", body)
	}
	if body.Sync.Running {
		t.Error("no sync should be running")
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newTestServer(&fakeQuerier{}, nil).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestServer(&fakeQuerier{}, nil).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSync_conflictWhileRunning(t *testing.T) {
	release := make(chan struct{})
	tr := &trigger.Trigger{Sync: func(ctx context.Context) (ingest.Result, error) {
		<-release
		return ingest.Result{}, nil
	}}
	srv := httptest.NewServer(newTestServer(&fakeQuerier{}, tr).Router())
	defer srv.Close()
	defer close(release)

	resp, err := http.Post(srv.URL+"/internal/sync", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first sync: status = %d, want 202", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/internal/sync", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second sync: status = %d, want 409", resp.StatusCode)
	}
}
