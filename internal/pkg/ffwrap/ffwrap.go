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

// Package ffwrap locates and runs the external ffmpeg and ffprobe binaries.
// It owns the process lifecycle: spawn, stderr streaming, cancellation and
// outcome normalization. It never parses media itself.
package ffwrap

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/logger"
)

var (
	ffmpegbinary  = "ffmpeg"
	ffprobebinary = "ffprobe"
)

func SetBinaryLocations(ffmpeg, ffprobe string) {
	ffmpegbinary = ffmpeg
	ffprobebinary = ffprobe
}

// FfmpegBinary returns the ffmpeg path invocations will use, for logging.
func FfmpegBinary() string {
	return ffmpegbinary
}

// ResolveFfmpeg picks between the configured ffmpeg path and whatever is on
// PATH, preferring the newer version. Archives routinely have a system
// ffmpeg that is years ahead of the one the config was written for.
func ResolveFfmpeg(ctx context.Context, configured string) string {
	cv, cerr := binaryVersion(ctx, configured)
	pv, perr := binaryVersion(ctx, "ffmpeg")

	switch {
	case cerr != nil && perr != nil:
		// Neither runs; keep the configured path so the eventual spawn
		// failure names the path the operator chose.
		return configured
	case cerr != nil:
		return "ffmpeg"
	case perr != nil:
		return configured
	}
	if versionLess(cv, pv) {
		logger.Infof("using ffmpeg from PATH (%v) over configured %q (%v)", pv, configured, cv)
		return "ffmpeg"
	}
	return configured
}

// binaryVersion runs `<path> -version` and parses the leading version
// triple. Git snapshot builds ("N-112233-gabcdef") yield whatever numeric
// prefix they carry.
func binaryVersion(ctx context.Context, path string) ([]int, error) {
	var sout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-version")
	cmd.Stdout = &sout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to exec %q -version: %v", path, err)
	}

	fields := strings.Fields(sout.String())
	// "ffmpeg version 6.1.1-3ubuntu5 Copyright ..."
	if len(fields) < 3 || fields[1] != "version" {
		return nil, fmt.Errorf("unrecognized -version output from %q", path)
	}
	raw := strings.SplitN(fields[2], "-", 2)[0]

	var version []int
	for _, part := range strings.Split(raw, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		version = append(version, n)
	}
	if len(version) == 0 {
		return nil, fmt.Errorf("no numeric version in %q", fields[2])
	}
	return version, nil
}

func versionLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// DetectCUDA reports whether ffmpeg lists cuda among its hardware
// accelerators and an NVIDIA device answers. Both checks are best effort;
// any failure means software encoding.
func DetectCUDA(ctx context.Context) bool {
	var sout bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpegbinary, "-hide_banner", "-hwaccels")
	cmd.Stdout = &sout
	if err := cmd.Run(); err != nil {
		return false
	}
	if !strings.Contains(sout.String(), "cuda") {
		return false
	}
	if err := exec.CommandContext(ctx, "nvidia-smi").Run(); err != nil {
		return false
	}
	return true
}

// ProbeDuration asks ffprobe for the container duration of source. Used to
// turn the runner's time= progress lines into a percentage; a source
// ffprobe cannot time (image sequences, raw streams) returns an error and
// progress stays indeterminate.
func ProbeDuration(ctx context.Context, source string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-print_format", "default=nokey=1:noprint_wrappers=1",
		source,
	}
	cmd := exec.CommandContext(ctx, ffprobebinary, args...)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %q: %v", source, err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %q returned unparseable duration %q", source, out)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
