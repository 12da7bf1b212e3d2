// Package transcript implements the Transcript Merger (C7): it sorts final
// segments from both channels by start time and renders diarized,
// timestamped markdown.
package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/meetingrec/pkg/frame"
)

// DefaultSpeakerGap is the intra-speaker gap that forces a new speaker
// header, per spec §3/§4.7.
const DefaultSpeakerGap = 1500 * time.Millisecond

// Options controls rendering.
type Options struct {
	SpeakerGap            time.Duration
	Participants          []string
	NoSpeechNoticeOnEmpty bool
}

// DefaultOptions returns the reference rendering options.
func DefaultOptions() Options {
	return Options{SpeakerGap: DefaultSpeakerGap, NoSpeechNoticeOnEmpty: true}
}

// Merge concatenates mic and system finals, stable-sorts by
// (start_ms, speaker), and renders markdown per spec §4.7 and §6.
func Merge(micFinals, systemFinals []frame.TranscriptSegment, opts Options) string {
	all := make([]frame.TranscriptSegment, 0, len(micFinals)+len(systemFinals))
	all = append(all, micFinals...)
	all = append(all, systemFinals...)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].StartMs != all[j].StartMs {
			return all[i].StartMs < all[j].StartMs
		}
		return all[i].Speaker < all[j].Speaker
	})

	var b strings.Builder
	b.WriteString("# Transcript\n\n")

	if len(opts.Participants) > 0 {
		fmt.Fprintf(&b, "**Participants:** %s\n\n", strings.Join(opts.Participants, ", "))
	}

	if len(all) == 0 {
		if opts.NoSpeechNoticeOnEmpty {
			b.WriteString("*No speech detected*\n")
		}
		return b.String()
	}

	speakerGap := opts.SpeakerGap
	if speakerGap == 0 {
		speakerGap = DefaultSpeakerGap
	}

	currentSpeaker := frame.Speaker("")
	var previousEndMs int64
	havePrevious := false

	for i, seg := range all {
		var gapMs int64
		if havePrevious {
			gapMs = seg.StartMs - previousEndMs
			if gapMs < 0 {
				gapMs = 0
			}
		}

		newHeader := seg.Speaker != currentSpeaker || (havePrevious && gapMs >= speakerGap.Milliseconds())
		if newHeader {
			if i != 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "**%s:**\n", seg.Speaker)
			currentSpeaker = seg.Speaker
		}

		fmt.Fprintf(&b, "[%s] %s\n", formatTimestamp(seg.StartMs), seg.Text)
		previousEndMs = seg.EndMs
		havePrevious = true
	}

	return b.String()
}

// formatTimestamp renders milliseconds as HH:MM:SS.mmm.
func formatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalMs := ms
	hours := totalMs / 3_600_000
	totalMs %= 3_600_000
	minutes := totalMs / 60_000
	totalMs %= 60_000
	seconds := totalMs / 1000
	millis := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
