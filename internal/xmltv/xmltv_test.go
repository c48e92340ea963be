package xmltv

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func parseFixture(t *testing.T) ([]Channel, []Programme, Stats) {
	t.Helper()
	f, err := os.Open("testdata/feed.xml")
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()

	var channels []Channel
	var programmes []Programme
	stats, err := Parse(f, Handler{
		OnChannel:   func(c Channel) error { channels = append(channels, c); return nil },
		OnProgramme: func(p Programme) error { programmes = append(programmes, p); return nil },
	})
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return channels, programmes, stats
}

func TestParse_channels(t *testing.T) {
	channels, _, _ := parseFixture(t)
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
	first := channels[0]
	if first.ID != "news.example" {
		t.Errorf("id = %q", first.ID)
	}
	if first.DisplayName != "Example News" {
		t.Errorf("display name = %q (first display-name wins)", first.DisplayName)
	}
	if first.IconSrc != "http://example.com/news.png" {
		t.Errorf("icon = %q", first.IconSrc)
	}
}

func TestParse_programmes(t *testing.T) {
	_, programmes, stats := parseFixture(t)
	// The fixture carries 4 programmes: one valid with offset, one valid
	// without offset (UTC), one with a broken start, one without a channel
	// attribute. The last two are dropped.
	if len(programmes) != 2 {
		t.Fatalf("expected 2 programmes, got %d: %+v", len(programmes), programmes)
	}
	if stats.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", stats.Skipped)
	}

	p := programmes[0]
	if p.ChannelID != "news.example" || p.Title != "Morning Report" {
		t.Errorf("programme[0] = %+v", p)
	}
	if p.Description != "Headlines and weather." || p.Category != "News" {
		t.Errorf("desc/category = %q / %q", p.Description, p.Category)
	}
	want := time.Date(2026, 8, 24, 6, 0, 0, 0, time.FixedZone("", 2*3600))
	if !p.Start.Equal(want) {
		t.Errorf("start = %v, want %v", p.Start, want)
	}

	// Second valid programme has no offset: must be treated as UTC.
	q := programmes[1]
	wantUTC := time.Date(2026, 8, 24, 7, 30, 0, 0, time.UTC)
	if !q.Start.Equal(wantUTC) {
		t.Errorf("offsetless start = %v, want %v", q.Start, wantUTC)
	}
}

func TestParse_skipsUnknownElements(t *testing.T) {
	doc := `<?xml version="1.0"?>
<tv>
  <unknown><deeply><nested attr="x">text</nested></deeply></unknown>
  <channel id="c1"><display-name>One</display-name><extra><stuff/></extra></channel>
</tv>`
	var channels []Channel
	_, err := Parse(strings.NewReader(doc), Handler{
		OnChannel: func(c Channel) error { channels = append(channels, c); return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 1 || channels[0].DisplayName != "One" {
		t.Fatalf("channels = %+v", channels)
	}
}

func TestParse_handlerErrorAborts(t *testing.T) {
	doc := `<tv><channel id="a"/><channel id="b"/></tv>`
	sentinel := errors.New("stop")
	calls := 0
	_, err := Parse(strings.NewReader(doc), Handler{
		OnChannel: func(Channel) error { calls++; return sentinel },
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want the handler error", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times after abort, want 1", calls)
	}
}

func TestParseTime(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"20260824060000 +0200", time.Date(2026, 8, 24, 6, 0, 0, 0, time.FixedZone("", 2*3600)), false},
		{"20260824060000 -0500", time.Date(2026, 8, 24, 6, 0, 0, 0, time.FixedZone("", -5*3600)), false},
		{"20260824060000", time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC), false},
		{"202608240600", time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC), false}, // truncated, no seconds
		{"20260824", time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), false},     // bare date
		{"", time.Time{}, true},
		{"not-a-time", time.Time{}, true},
		{"2026", time.Time{}, true},
	}
	for _, c := range cases {
		got, err := ParseTime(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseTime(%q): expected error, got %v", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTime(%q): %v", c.in, err)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("ParseTime(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
