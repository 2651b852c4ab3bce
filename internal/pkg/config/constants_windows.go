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

//go:build windows
// +build windows

package config

const (
	// windows defaults
	defaultFfmpegPath   = `c:\ffmpeg\ffmpeg.exe`
	defaultFfprobePath  = `c:\ffmpeg\ffprobe.exe`
	defaultLogDirectory = `c:\ProgramData\smelt\logs`
	defaultDBPath       = `c:\ProgramData\smelt\smelt.db`

	DefaultConfigPath = `c:\ProgramData\smelt\config.yaml`
)
