package provider

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/tvmux/tvmux/internal/catalog"
)

// xmltvLayouts covers the timestamp variants seen in the wild: with zone,
// without zone (treated as UTC), and date-hour-minute only.
var xmltvLayouts = []string{
	"20060102150405 -0700",
	"20060102150405",
	"200601021504 -0700",
	"200601021504",
}

func parseXMLTVTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range xmltvLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseXMLTV streams an XMLTV document and returns its programme entries
// keyed by the feed's channel id. Entries with an unparseable start or stop
// are skipped rather than failing the whole guide.
func parseXMLTV(data []byte) ([]catalog.EPGProgram, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []catalog.EPGProgram
	sawRoot := false
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "tv":
			sawRoot = true
		case "programme":
			var node struct {
				Channel string `xml:"channel,attr"`
				Start   string `xml:"start,attr"`
				Stop    string `xml:"stop,attr"`
				Title   string `xml:"title"`
				Desc    string `xml:"desc"`
			}
			if err := dec.DecodeElement(&node, &start); err != nil {
				return nil, err
			}
			startAt, okS := parseXMLTVTime(node.Start)
			endAt, okE := parseXMLTVTime(node.Stop)
			if node.Channel == "" || !okS || !okE || !endAt.After(startAt) {
				continue
			}
			out = append(out, catalog.EPGProgram{
				ChannelExternalID: node.Channel,
				Title:             strings.TrimSpace(node.Title),
				Description:       strings.TrimSpace(node.Desc),
				Start:             startAt,
				End:               endAt,
			})
		default:
			if sawRoot && start.Name.Local == "channel" {
				_ = dec.Skip()
			}
		}
	}
	if !sawRoot {
		return nil, errors.New("xmltv: root <tv> element not found")
	}
	return out, nil
}
