// Package xmltv stream-parses XMLTV guide documents. The document is read
// token-by-token and handed to the caller one record at a time, so a
// multi-hundred-megabyte feed never has to fit in memory. Namespaces are
// ignored (XMLTV does not use them) and unknown elements are skipped.
package xmltv

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// Channel is one <channel> element: feed-assigned id, first display-name,
// first icon src.
type Channel struct {
	ID          string
	DisplayName string
	IconSrc     string
}

// Programme is one <programme> element with its timestamps already parsed.
type Programme struct {
	ChannelID   string
	Start       time.Time
	Stop        time.Time
	Title       string
	Description string
	Category    string
}

// Handler receives records as they are decoded. A nil func skips that record
// kind. Returning an error aborts the parse and propagates out of Parse.
type Handler struct {
	OnChannel   func(Channel) error
	OnProgramme func(Programme) error
}

// Stats counts what a parse run saw. Skipped covers malformed programmes
// (missing channel attribute, unparseable start/stop) which are dropped
// without failing the run.
type Stats struct {
	Channels   int
	Programmes int
	Skipped    int
}

// Parse streams the XMLTV document from r, invoking h for each channel and
// programme. Feeds declaring non-UTF-8 encodings (latin-1, windows-1251 are
// common in the wild) are transcoded on the fly.
func Parse(r io.Reader, h Handler) (Stats, error) {
	var stats Stats
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("xmltv: read token: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "tv":
			// Root container; descend into it.
		case "channel":
			c, err := parseChannel(dec, start)
			if err != nil {
				return stats, fmt.Errorf("xmltv: channel element: %w", err)
			}
			stats.Channels++
			if h.OnChannel != nil {
				if err := h.OnChannel(c); err != nil {
					return stats, err
				}
			}
		case "programme":
			p, ok, err := parseProgramme(dec, start)
			if err != nil {
				return stats, fmt.Errorf("xmltv: programme element: %w", err)
			}
			if !ok {
				stats.Skipped++
				continue
			}
			stats.Programmes++
			if h.OnProgramme != nil {
				if err := h.OnProgramme(p); err != nil {
					return stats, err
				}
			}
		default:
			if err := skipElement(dec); err != nil {
				return stats, fmt.Errorf("xmltv: skip <%s>: %w", start.Name.Local, err)
			}
		}
	}
}

// skipElement consumes tokens until the element opened by the last
// StartElement is closed, tracking depth so nested unknowns are swallowed.
func skipElement(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parseChannel(dec *xml.Decoder, start xml.StartElement) (Channel, error) {
	c := Channel{ID: strings.TrimSpace(attr(start, "id"))}
	for {
		tok, err := dec.Token()
		if err != nil {
			return c, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "display-name":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return c, err
				}
				if c.DisplayName == "" {
					c.DisplayName = strings.TrimSpace(text)
				}
			case "icon":
				if c.IconSrc == "" {
					c.IconSrc = strings.TrimSpace(attr(t, "src"))
				}
				if err := skipElement(dec); err != nil {
					return c, err
				}
			default:
				if err := skipElement(dec); err != nil {
					return c, err
				}
			}
		case xml.EndElement:
			return c, nil
		}
	}
}

// parseProgramme consumes one <programme> element. ok is false when the
// element is malformed (no channel attribute, bad timestamps): the element
// is fully consumed but should be dropped by the caller.
func parseProgramme(dec *xml.Decoder, start xml.StartElement) (p Programme, ok bool, err error) {
	p.ChannelID = strings.TrimSpace(attr(start, "channel"))
	startRaw := attr(start, "start")
	stopRaw := attr(start, "stop")

	for {
		tok, err := dec.Token()
		if err != nil {
			return p, false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "title":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return p, false, err
				}
				if p.Title == "" {
					p.Title = strings.TrimSpace(text)
				}
			case "desc":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return p, false, err
				}
				if p.Description == "" {
					p.Description = strings.TrimSpace(text)
				}
			case "category":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return p, false, err
				}
				if p.Category == "" {
					p.Category = strings.TrimSpace(text)
				}
			default:
				if err := skipElement(dec); err != nil {
					return p, false, err
				}
			}
		case xml.EndElement:
			if p.ChannelID == "" {
				return p, false, nil
			}
			if p.Start, err = ParseTime(startRaw); err != nil {
				return p, false, nil
			}
			if p.Stop, err = ParseTime(stopRaw); err != nil {
				return p, false, nil
			}
			return p, true, nil
		}
	}
}

const timeLayout = "20060102150405 -0700"

// ParseTime parses an XMLTV timestamp: "yyyyMMddHHmmss ±HHMM". The offset is
// optional (absent means UTC) and the datetime part may be truncated down to
// a bare date, per common feed practice.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("xmltv: empty timestamp")
	}
	datetime := s
	offset := ""
	if i := strings.IndexAny(s, " +-"); i > 0 {
		datetime = s[:i]
		offset = strings.TrimSpace(s[i:])
	}
	if len(datetime) < 8 || len(datetime) > 14 {
		return time.Time{}, fmt.Errorf("xmltv: bad timestamp %q", s)
	}
	// Pad truncated forms ("200601021830" etc.) out to full seconds.
	datetime += "00000000000000"[len(datetime):]
	if offset == "" {
		offset = "+0000"
	}
	t, err := time.Parse(timeLayout, datetime+" "+offset)
	if err != nil {
		return time.Time{}, fmt.Errorf("xmltv: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
