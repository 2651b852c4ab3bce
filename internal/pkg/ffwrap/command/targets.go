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

// Target is an output codec/container pairing.
type Target string

const (
	TargetLosslessMOV Target = "lossless_mov"
	TargetProRes422HQ Target = "prores422hq"
	TargetH264MP4     Target = "h264_mp4"
	TargetAAC         Target = "aac"
	TargetPCM16       Target = "pcm_s16le"
)

// targetArgs is the single lookup table binding a target to its ffmpeg
// flags. The flag spellings are a contract with the ffmpeg command line
// grammar; keep every codec flag in this table and nowhere else.
var targetArgs = map[Target][]string{
	TargetLosslessMOV: {
		"-c:v", "libx264",
		"-preset", "slow",
		"-qp", "0",
		"-c:a", "copy",
	},
	TargetProRes422HQ: {
		"-c:v", "prores",
		"-profile:v", "3",
		"-pix_fmt", "yuv422p10le",
		"-vf", "scale=-2:1080",
		"-c:a", "pcm_s16le",
	},
	TargetH264MP4: {
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-vf", "scale=-2:1080",
		"-preset", "slow",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "224k",
	},
	TargetAAC: {
		"-c:a", "aac",
		"-b:a", "192k",
		"-vn",
	},
	TargetPCM16: {
		"-c:a", "pcm_s16le",
		"-vn",
	},
}

// targetOperation records which operation each target serves.
var targetOperation = map[Target]Operation{
	TargetLosslessMOV: ConvertVideo,
	TargetProRes422HQ: ConvertVideo,
	TargetH264MP4:     ConvertVideo,
	TargetAAC:         ConvertAudio,
	TargetPCM16:       ConvertAudio,
}

// targetExtensions lists the output extensions a target may be written to.
var targetExtensions = map[Target][]string{
	TargetLosslessMOV: {".mov"},
	TargetProRes422HQ: {".mov"},
	TargetH264MP4:     {".mp4"},
	TargetAAC:         {".m4a", ".aac", ".mp4"},
	TargetPCM16:       {".wav"},
}

// OperationForTarget reports which operation a target belongs to.
func OperationForTarget(t Target) (Operation, bool) {
	op, ok := targetOperation[t]
	return op, ok
}

// Targets returns the supported targets for an operation, for surfaces that
// enumerate choices (CLI help, the enqueue API).
func Targets(op Operation) []Target {
	var out []Target
	for _, t := range []Target{TargetLosslessMOV, TargetProRes422HQ, TargetH264MP4, TargetAAC, TargetPCM16} {
		if targetOperation[t] == op {
			out = append(out, t)
		}
	}
	return out
}
