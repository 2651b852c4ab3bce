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

package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ffcommon = []string{"-hide_banner", "-nostdin", "-stats", "-loglevel", "info"}

// accelAvailable gates the advisory HWAccel flag. The runner's hardware
// probe sets it once at startup; requests asking for acceleration on a
// machine without it silently build a software command.
var accelAvailable = false

func SetAcceleration(available bool) {
	accelAvailable = available
}

// Build validates a request and produces the full ffmpeg argument vector,
// excluding the binary itself. On any validation failure the returned error
// is a *BuildError and the argument vector is nil, never partial. Build is
// deterministic: equal requests produce identical vectors.
func Build(r Request) ([]string, error) {
	if err := checkOutput(r); err != nil {
		return nil, err
	}

	switch r.Operation {
	case CombineAudio:
		return buildCombine(r)
	case ConvertVideo, ConvertAudio:
		return buildConvert(r)
	}
	return nil, buildErrorf(UnsupportedFormat, "unknown operation %d", r.Operation)
}

// checkOutput validates the destination path and the overwrite policy.
func checkOutput(r Request) error {
	if r.Output == "" {
		return buildErrorf(MissingInput, "no output path")
	}
	if ext := filepath.Ext(r.Output); ext == "" {
		return buildErrorf(UnsupportedFormat, "output %q has no extension", r.Output)
	}
	if !r.Overwrite {
		if _, err := os.Stat(r.Output); err == nil {
			return buildErrorf(OutputCollision, "%q already exists", r.Output)
		}
	}
	return nil
}

func preamble(r Request) []string {
	args := make([]string, 0, 32)
	args = append(args, ffcommon...)
	// The overwrite decision was already validated; -y / -n keeps ffmpeg
	// honest if the output appears between validation and spawn.
	if r.Overwrite {
		args = append(args, "-y")
	} else {
		args = append(args, "-n")
	}
	return args
}

// buildCombine emits one input per present channel role in the fixed layout
// order, then an amerge+pan filter joining them into a single multichannel
// stream, pcm encoded.
func buildCombine(r Request) ([]string, error) {
	paths := map[Role]string{}
	seen := map[string]Role{}
	for _, ch := range r.Channels {
		if ch.Path == "" {
			continue
		}
		if !validRole(ch.Role) {
			return nil, buildErrorf(InvalidRoleMapping, "unknown channel role %q", ch.Role)
		}
		if _, dup := paths[ch.Role]; dup {
			return nil, buildErrorf(InvalidRoleMapping, "role %q given twice", ch.Role)
		}
		if prev, dup := seen[ch.Path]; dup {
			return nil, buildErrorf(InvalidRoleMapping, "%q mapped to both %q and %q", ch.Path, prev, ch.Role)
		}
		paths[ch.Role] = ch.Path
		seen[ch.Path] = ch.Role
	}
	if len(paths) == 0 {
		return nil, buildErrorf(MissingInput, "no channel inputs")
	}
	if ext := strings.ToLower(filepath.Ext(r.Output)); ext != ".wav" {
		return nil, buildErrorf(UnsupportedFormat, "combined audio output must be .wav, got %q", ext)
	}

	args := preamble(r)

	n := 0
	var labels, pans strings.Builder
	for _, role := range roleOrder {
		p, ok := paths[role]
		if !ok {
			continue
		}
		args = append(args, "-i", p)
		fmt.Fprintf(&labels, "[%d]", n)
		if n > 0 {
			pans.WriteByte('|')
		}
		fmt.Fprintf(&pans, "c%d<c%d", n, n)
		n++
	}

	filter := fmt.Sprintf("%samerge=inputs=%d,pan=%dc|%s", labels.String(), n, n, pans.String())
	args = append(args,
		"-filter_complex", filter,
		"-ac", strconv.Itoa(n),
		"-c:a", "pcm_s16le",
	)
	args = append(args, r.Output)
	return args, nil
}

// buildConvert emits the single source input, the target's codec flags from
// the lookup table, and the output.
func buildConvert(r Request) ([]string, error) {
	if r.Source == "" {
		return nil, buildErrorf(MissingInput, "no source path")
	}
	flags, ok := targetArgs[r.Target]
	if !ok {
		return nil, buildErrorf(UnsupportedFormat, "unknown target %q", r.Target)
	}
	if targetOperation[r.Target] != r.Operation {
		return nil, buildErrorf(UnsupportedFormat, "target %q does not apply to %s", r.Target, r.Operation)
	}
	if !extensionAllowed(r.Target, r.Output) {
		return nil, buildErrorf(UnsupportedFormat, "output %q does not match target %q", r.Output, r.Target)
	}
	if r.Sequence != nil && r.Operation != ConvertVideo {
		return nil, buildErrorf(UnsupportedFormat, "image sequence input requires a video target")
	}

	args := preamble(r)

	if r.HWAccel && accelAvailable && r.Operation == ConvertVideo {
		args = append(args, "-hwaccel", "auto")
	}

	if r.Sequence != nil {
		args = append(args,
			"-f", "image2",
			"-vsync", "0",
			"-framerate", r.Sequence.FrameRate,
			"-start_number", strconv.Itoa(r.Sequence.StartNumber),
		)
	}
	args = append(args, "-i", r.Source)

	args = append(args, flags...)
	args = append(args, r.Output)
	return args, nil
}

func validRole(role Role) bool {
	for _, r := range roleOrder {
		if r == role {
			return true
		}
	}
	return false
}

func extensionAllowed(t Target, output string) bool {
	ext := strings.ToLower(filepath.Ext(output))
	for _, allowed := range targetExtensions[t] {
		if ext == allowed {
			return true
		}
	}
	return false
}
