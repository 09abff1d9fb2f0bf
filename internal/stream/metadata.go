// Package stream relays generated tokens to the client and extracts the
// control metadata the model appends to its reply.
//
// The metadata grammar is line oriented: a marker, then a payload that runs
// to the end of the line or to the next marker.
//
//	Sure, happy to help.
//	[[QUICK_REPLIES]] Yes please | Not yet | Tell me more
//	[[DELAY]] 5
package stream

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	QuickRepliesMarker = "[[QUICK_REPLIES]]"
	DelayMarker        = "[[DELAY]]"

	MaxQuickReplies = 4
	MaxDelaySeconds = 300
)

var markers = []string{QuickRepliesMarker, DelayMarker}

var leadingIntRe = regexp.MustCompile(`^-?\d+`)

// Metadata is the structured tail of a generated reply.
type Metadata struct {
	QuickReplies            []string `json:"quickReplies"`
	NextMessageDelaySeconds int      `json:"nextMessageDelaySeconds"`
}

// ParseMetadata splits raw model output into the text shown to the user and
// the metadata declared after the first marker. Text following the first
// marker is never part of the visible text.
func ParseMetadata(raw string) (string, Metadata) {
	md := Metadata{QuickReplies: []string{}}
	first, _ := nextMarker(raw)
	if first < 0 {
		return strings.TrimSpace(raw), md
	}
	visible := strings.TrimSpace(raw[:first])

	tail := raw[first:]
	for {
		i, marker := nextMarker(tail)
		if i < 0 {
			break
		}
		tail = tail[i+len(marker):]
		end := len(tail)
		if nl := strings.IndexAny(tail, "\r\n"); nl >= 0 {
			end = nl
		}
		if j, _ := nextMarker(tail[:end]); j >= 0 {
			end = j
		}
		payload := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tail[:end]), ":"))
		switch marker {
		case QuickRepliesMarker:
			md.QuickReplies = appendQuickReplies(md.QuickReplies, payload)
		case DelayMarker:
			md.NextMessageDelaySeconds = parseDelay(payload)
		}
		tail = tail[end:]
	}
	return visible, md
}

func appendQuickReplies(out []string, payload string) []string {
	for _, part := range strings.Split(payload, "|") {
		if len(out) == MaxQuickReplies {
			break
		}
		reply := strings.Trim(strings.TrimSpace(part), `"'`)
		if reply == "" {
			continue
		}
		out = append(out, reply)
	}
	return out
}

func parseDelay(payload string) int {
	n, err := strconv.Atoi(leadingIntRe.FindString(payload))
	if err != nil {
		return 0
	}
	return max(0, min(n, MaxDelaySeconds))
}

// nextMarker returns the index and text of the earliest marker in s, or -1.
func nextMarker(s string) (int, string) {
	best, found := -1, ""
	for _, m := range markers {
		if i := strings.Index(s, m); i >= 0 && (best < 0 || i < best) {
			best, found = i, m
		}
	}
	return best, found
}

// pendingMarkerLen is the length of the longest suffix of s that is a proper
// prefix of some marker.
func pendingMarkerLen(s string) int {
	longest := 0
	for _, m := range markers {
		for n := min(len(m)-1, len(s)); n > longest; n-- {
			if strings.HasSuffix(s, m[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}
