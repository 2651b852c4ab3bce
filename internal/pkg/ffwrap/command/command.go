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

// Package command turns a media operation request into the argument vector
// for an ffmpeg invocation. Building never touches the content of any input
// file; the only filesystem access is the overwrite check on the output
// path. Every flag ffmpeg sees is produced here, from one table per target,
// so a flag rename in a future ffmpeg release is a one file change.
package command

type Operation int

const (
	// CombineAudio merges per channel wav files into one multichannel file.
	CombineAudio Operation = iota
	// ConvertVideo transcodes a video source (file or image sequence) to a
	// target format.
	ConvertVideo
	// ConvertAudio transcodes a standalone audio file.
	ConvertAudio
)

func (o Operation) String() string {
	switch o {
	case CombineAudio:
		return "combine_audio"
	case ConvertVideo:
		return "convert_video"
	case ConvertAudio:
		return "convert_audio"
	}
	return "unknown"
}

// Role names a position in a multichannel audio layout.
type Role string

const (
	RoleLeft          Role = "left"
	RoleRight         Role = "right"
	RoleCenter        Role = "center"
	RoleLFE           Role = "lfe"
	RoleLeftSurround  Role = "left_surround"
	RoleRightSurround Role = "right_surround"
)

// roleNames maps accepted spellings to roles: the canonical name plus the
// file suffix convention mastering houses deliver in (.L.wav, .Rs.wav and
// so on).
var roleNames = map[string]Role{
	"left":           RoleLeft,
	"L":              RoleLeft,
	"right":          RoleRight,
	"R":              RoleRight,
	"center":         RoleCenter,
	"C":              RoleCenter,
	"lfe":            RoleLFE,
	"LFE":            RoleLFE,
	"left_surround":  RoleLeftSurround,
	"Ls":             RoleLeftSurround,
	"right_surround": RoleRightSurround,
	"Rs":             RoleRightSurround,
}

// ParseRole resolves a role name or suffix alias from a wire request.
func ParseRole(s string) (Role, bool) {
	role, ok := roleNames[s]
	return role, ok
}

// roleOrder fixes the input ordering for combined audio. This is the
// channel ordering of the 5.1 layouts the target containers expect; inputs
// are always emitted in this order regardless of how the request lists them.
var roleOrder = []Role{
	RoleLeft,
	RoleRight,
	RoleCenter,
	RoleLFE,
	RoleLeftSurround,
	RoleRightSurround,
}

// ChannelInput binds one source file to a channel role.
type ChannelInput struct {
	Role Role   `json:"role"`
	Path string `json:"path"`
}

// Sequence describes an image sequence input (scanned film reels arrive as
// numbered dpx frames). FrameRate is passed through to ffmpeg verbatim so
// fractional rates like 24000/1001 survive.
type Sequence struct {
	FrameRate   string `json:"frame_rate"`
	StartNumber int    `json:"start_number"`
}

// Request is the immutable description of one user initiated operation.
// It is built fresh per action, consumed once by Build, and never shared.
type Request struct {
	Operation Operation      `json:"operation"`
	Channels  []ChannelInput `json:"channels,omitempty"`
	Source    string         `json:"source,omitempty"`
	Sequence  *Sequence      `json:"sequence,omitempty"`
	Output    string         `json:"output"`
	Target    Target         `json:"target,omitempty"`
	HWAccel   bool           `json:"hwaccel,omitempty"`
	Overwrite bool           `json:"overwrite,omitempty"`
}
