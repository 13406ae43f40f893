package ingest

import (
	"fmt"
	"strings"
)

// Segment is one bounded slice of a document's extracted text.
//
// Index:        stable, zero-based position of the segment inside the document.
// Content:      trimmed segment text.
// Start, End:   rune offsets of the untrimmed span in the source text,
//               0 <= Start < End <= len(text).
type Segment struct {
	Index   int
	Content string
	Start   int
	End     int
}

// Default segmentation knobs, in runes.
const (
	DefaultChunkSize = 1500
	DefaultOverlap   = 200
)

// SegmentText splits text into overlapping, size-bounded segments.
//
// Starting at offset 0, the proposed end is start+chunkSize. When that falls
// inside the text, the end snaps back to just after the nearest sentence
// break (period or newline), but only if that break lies past the midpoint of
// the window; this avoids cutting mid-sentence while bounding segment size.
// The next segment starts at end-overlap, so consecutive segments share
// exactly overlap runes except at the final segment. Segments whose trimmed
// content is empty are dropped without consuming an index, keeping indices
// dense and zero-based.
//
// chunkSize must exceed overlap (>= 0) and text must be non-empty; both are
// caller bugs, not data conditions, and are reported as plain errors.
func SegmentText(text string, chunkSize, overlap int) ([]Segment, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("invalid segmentation params: chunkSize=%d overlap=%d", chunkSize, overlap)
	}
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, fmt.Errorf("cannot segment empty text")
	}

	var segs []Segment
	idx := 0
	start := 0
	for start < n {
		end := start + chunkSize
		if end >= n {
			end = n
		} else {
			// Snap to the last sentence break inside the window, if it
			// falls past the midpoint.
			if bp := lastBreak(runes, start, end); bp > start+chunkSize/2 {
				end = bp + 1
			}
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			segs = append(segs, Segment{Index: idx, Content: content, Start: start, End: end})
			idx++
		}

		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			// overlap < chunkSize guarantees forward progress in the
			// common case; the clamp covers aggressive break snapping.
			next = end
		}
		start = next
	}
	return segs, nil
}

// lastBreak returns the index of the last '.' or '\n' in runes[start:end),
// or -1 if the window holds none.
func lastBreak(runes []rune, start, end int) int {
	for j := end - 1; j > start; j-- {
		if runes[j] == '.' || runes[j] == '\n' {
			return j
		}
	}
	return -1
}
