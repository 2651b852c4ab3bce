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
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func reason(t *testing.T, err error) BuildReason {
	t.Helper()
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("error %v is not a *BuildError", err)
	}
	return be.Reason
}

func hasPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestBuildCombineStereo(t *testing.T) {
	r := Request{
		Operation: CombineAudio,
		Channels: []ChannelInput{
			{Role: RoleLeft, Path: "L.wav"},
			{Role: RoleRight, Path: "R.wav"},
			{Role: RoleCenter, Path: ""},
		},
		Output: "out.wav",
	}
	args, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !hasPair(args, "-i", "L.wav") || !hasPair(args, "-i", "R.wav") {
		t.Errorf("Build() = %v, want -i for both channel files", args)
	}
	if !hasPair(args, "-filter_complex", "[0][1]amerge=inputs=2,pan=2c|c0<c0|c1<c1") {
		t.Errorf("Build() = %v, want two input amerge filter", args)
	}
	if args[len(args)-1] != "out.wav" {
		t.Errorf("last token = %q, want out.wav", args[len(args)-1])
	}
	for i, tok := range args {
		if tok == "" {
			t.Errorf("token %d is empty", i)
		}
	}
}

func TestBuildCombineOrdering(t *testing.T) {
	// Roles listed out of order still produce inputs in layout order.
	r := Request{
		Operation: CombineAudio,
		Channels: []ChannelInput{
			{Role: RoleRightSurround, Path: "Rs.wav"},
			{Role: RoleLeft, Path: "L.wav"},
			{Role: RoleLFE, Path: "LFE.wav"},
		},
		Output: "out.wav",
	}
	args, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	var inputs []string
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-i" {
			inputs = append(inputs, args[i+1])
		}
	}
	want := []string{"L.wav", "LFE.wav", "Rs.wav"}
	if !reflect.DeepEqual(inputs, want) {
		t.Errorf("input order = %v, want %v", inputs, want)
	}
}

func TestBuildCombineFullLayout(t *testing.T) {
	r := Request{
		Operation: CombineAudio,
		Channels: []ChannelInput{
			{Role: RoleLeft, Path: "x.L.wav"},
			{Role: RoleRight, Path: "x.R.wav"},
			{Role: RoleCenter, Path: "x.C.wav"},
			{Role: RoleLFE, Path: "x.LFE.wav"},
			{Role: RoleLeftSurround, Path: "x.Ls.wav"},
			{Role: RoleRightSurround, Path: "x.Rs.wav"},
		},
		Output: "combined.wav",
	}
	args, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !hasPair(args, "-filter_complex", "[0][1][2][3][4][5]amerge=inputs=6,pan=6c|c0<c0|c1<c1|c2<c2|c3<c3|c4<c4|c5<c5") {
		t.Errorf("Build() = %v, want six input amerge filter", args)
	}
	if !hasPair(args, "-ac", "6") || !hasPair(args, "-c:a", "pcm_s16le") {
		t.Errorf("Build() = %v, want -ac 6 and pcm encoding", args)
	}
}

func TestBuildCombineErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want BuildReason
	}{
		{
			name: "no inputs at all",
			req:  Request{Operation: CombineAudio, Output: "out.wav"},
			want: MissingInput,
		},
		{
			name: "all paths empty",
			req: Request{
				Operation: CombineAudio,
				Channels:  []ChannelInput{{Role: RoleLeft}, {Role: RoleRight}},
				Output:    "out.wav",
			},
			want: MissingInput,
		},
		{
			name: "same file on two roles",
			req: Request{
				Operation: CombineAudio,
				Channels: []ChannelInput{
					{Role: RoleLeft, Path: "mono.wav"},
					{Role: RoleRight, Path: "mono.wav"},
				},
				Output: "out.wav",
			},
			want: InvalidRoleMapping,
		},
		{
			name: "unknown role",
			req: Request{
				Operation: CombineAudio,
				Channels:  []ChannelInput{{Role: "top_middle", Path: "t.wav"}},
				Output:    "out.wav",
			},
			want: InvalidRoleMapping,
		},
		{
			name: "role given twice",
			req: Request{
				Operation: CombineAudio,
				Channels: []ChannelInput{
					{Role: RoleLeft, Path: "a.wav"},
					{Role: RoleLeft, Path: "b.wav"},
				},
				Output: "out.wav",
			},
			want: InvalidRoleMapping,
		},
		{
			name: "wrong output extension",
			req: Request{
				Operation: CombineAudio,
				Channels:  []ChannelInput{{Role: RoleLeft, Path: "L.wav"}},
				Output:    "out.mp3",
			},
			want: UnsupportedFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := Build(tt.req)
			if err == nil {
				t.Fatalf("Build() = %v, want error", args)
			}
			if args != nil {
				t.Errorf("Build() returned partial args %v alongside error", args)
			}
			if got := reason(t, err); got != tt.want {
				t.Errorf("reason = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildConvertH264(t *testing.T) {
	r := Request{
		Operation: ConvertVideo,
		Source:    "clip.mov",
		Output:    "clip.mp4",
		Target:    TargetH264MP4,
	}
	args, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !hasPair(args, "-c:v", "libx264") {
		t.Errorf("Build() = %v, want libx264 video codec", args)
	}
	if !hasPair(args, "-i", "clip.mov") {
		t.Errorf("Build() = %v, want -i clip.mov", args)
	}
	if args[len(args)-1] != "clip.mp4" {
		t.Errorf("last token = %q, want clip.mp4", args[len(args)-1])
	}
}

func TestBuildConvertProRes(t *testing.T) {
	r := Request{
		Operation: ConvertVideo,
		Source:    "master.mxf",
		Output:    "master_prores.mov",
		Target:    TargetProRes422HQ,
	}
	args, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !hasPair(args, "-c:v", "prores") || !hasPair(args, "-profile:v", "3") {
		t.Errorf("Build() = %v, want prores 422 HQ flags", args)
	}
	if !hasPair(args, "-pix_fmt", "yuv422p10le") {
		t.Errorf("Build() = %v, want 10 bit 4:2:2 pixel format", args)
	}
}

func TestBuildConvertSequence(t *testing.T) {
	r := Request{
		Operation: ConvertVideo,
		Source:    "reel1_%06d.dpx",
		Sequence:  &Sequence{FrameRate: "24", StartNumber: 86400},
		Output:    "reel1.mov",
		Target:    TargetLosslessMOV,
	}
	args, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !hasPair(args, "-f", "image2") || !hasPair(args, "-framerate", "24") {
		t.Errorf("Build() = %v, want image2 sequence input flags", args)
	}
	if !hasPair(args, "-start_number", "86400") {
		t.Errorf("Build() = %v, want -start_number 86400", args)
	}
	// Sequence flags must precede the input they configure.
	var fIdx, iIdx int
	for i, tok := range args {
		switch tok {
		case "-f":
			fIdx = i
		case "-i":
			iIdx = i
		}
	}
	if fIdx > iIdx {
		t.Errorf("sequence flags at %d appear after -i at %d", fIdx, iIdx)
	}
}

func TestBuildConvertAudio(t *testing.T) {
	r := Request{
		Operation: ConvertAudio,
		Source:    "narration.wav",
		Output:    "narration.m4a",
		Target:    TargetAAC,
	}
	args, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !hasPair(args, "-c:a", "aac") || !hasPair(args, "-b:a", "192k") {
		t.Errorf("Build() = %v, want aac flags", args)
	}
	var hasVN bool
	for _, tok := range args {
		if tok == "-vn" {
			hasVN = true
		}
	}
	if !hasVN {
		t.Errorf("Build() = %v, want -vn for audio only output", args)
	}
}

func TestBuildConvertErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want BuildReason
	}{
		{
			name: "missing source",
			req:  Request{Operation: ConvertVideo, Output: "o.mp4", Target: TargetH264MP4},
			want: MissingInput,
		},
		{
			name: "unknown target",
			req:  Request{Operation: ConvertVideo, Source: "a.mov", Output: "o.mp4", Target: "vp9"},
			want: UnsupportedFormat,
		},
		{
			name: "audio target on video operation",
			req:  Request{Operation: ConvertVideo, Source: "a.mov", Output: "o.m4a", Target: TargetAAC},
			want: UnsupportedFormat,
		},
		{
			name: "extension mismatch",
			req:  Request{Operation: ConvertVideo, Source: "a.mov", Output: "o.mkv", Target: TargetH264MP4},
			want: UnsupportedFormat,
		},
		{
			name: "missing output",
			req:  Request{Operation: ConvertVideo, Source: "a.mov", Target: TargetH264MP4},
			want: MissingInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.req)
			if err == nil {
				t.Fatal("Build() succeeded, want error")
			}
			if got := reason(t, err); got != tt.want {
				t.Errorf("reason = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildOutputCollision(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "done.mp4")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	r := Request{Operation: ConvertVideo, Source: "a.mov", Output: existing, Target: TargetH264MP4}
	_, err := Build(r)
	if got := reason(t, err); got != OutputCollision {
		t.Errorf("reason = %v, want OutputCollision", got)
	}

	// Overwrite suppresses the collision and emits -y.
	r.Overwrite = true
	args, err := Build(r)
	if err != nil {
		t.Fatalf("Build() with Overwrite error: %v", err)
	}
	if !strings.Contains(strings.Join(args, " "), " -y ") && args[len(args)-1] != "-y" {
		t.Errorf("Build() = %v, want -y", args)
	}
	if args[len(args)-1] != existing {
		t.Errorf("last token = %q, want output path", args[len(args)-1])
	}
}

func TestBuildIdempotent(t *testing.T) {
	r := Request{
		Operation: CombineAudio,
		Channels: []ChannelInput{
			{Role: RoleLeft, Path: "L.wav"},
			{Role: RoleRight, Path: "R.wav"},
		},
		Output: "out.wav",
	}
	first, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	second, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Build() not deterministic:\n%v\n%v", first, second)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"left", RoleLeft, true},
		{"L", RoleLeft, true},
		{"LFE", RoleLFE, true},
		{"Ls", RoleLeftSurround, true},
		{"right_surround", RoleRightSurround, true},
		{"ls", "", false},
		{"top_middle", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRole(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBuildHWAccelAdvisory(t *testing.T) {
	r := Request{
		Operation: ConvertVideo,
		Source:    "a.mov",
		Output:    "a.mp4",
		Target:    TargetH264MP4,
		HWAccel:   true,
	}

	SetAcceleration(false)
	args, err := Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	for _, tok := range args {
		if tok == "-hwaccel" {
			t.Errorf("Build() = %v, want no -hwaccel without hardware", args)
		}
	}

	SetAcceleration(true)
	t.Cleanup(func() { SetAcceleration(false) })
	args, err = Build(r)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !hasPair(args, "-hwaccel", "auto") {
		t.Errorf("Build() = %v, want -hwaccel auto", args)
	}
}
