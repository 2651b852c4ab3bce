// Copyright 2024 The Smelt Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ffwrap

import (
	"regexp"
	"strconv"
	"time"
)

var (
	// durationRegex pulls the total duration ffmpeg prints while opening
	// the input.
	durationRegex = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+(?:\.\d+)?)`)
	// timeRegex pulls the current position from the repeating stats line.
	timeRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)
)

// Tracker derives percent progress from ffmpeg stderr lines. Feed it every
// line from a run; Observe reports a percentage once both a total duration
// and a position have been seen.
type Tracker struct {
	total time.Duration
}

// NewTracker returns a tracker, optionally seeded with a total duration
// from an ffprobe of the source. Zero means learn it from the Duration
// line.
func NewTracker(total time.Duration) *Tracker {
	return &Tracker{total: total}
}

// Observe consumes one stderr line. The returned percent is only valid
// when ok is true, and is clamped to 100 because position can overshoot
// the container duration on the final frames.
func (t *Tracker) Observe(line string) (percent float64, ok bool) {
	if t.total == 0 {
		if m := durationRegex.FindStringSubmatch(line); m != nil {
			t.total = parseClock(m[1], m[2], m[3])
			return 0, false
		}
	}

	m := timeRegex.FindStringSubmatch(line)
	if m == nil || t.total == 0 {
		return 0, false
	}
	pos := parseClock(m[1], m[2], m[3])
	percent = float64(pos) / float64(t.total) * 100
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

func parseClock(h, m, s string) time.Duration {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.ParseFloat(s, 64)
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
}
