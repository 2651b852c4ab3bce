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

// Package config loads the smelt service configuration from yaml with
// per platform defaults for anything the file leaves unset.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultJobLimit    = 1
	defaultListenAddr  = "localhost:51219"
	defaultGracePeriod = 5 * time.Second
)

type SmeltConfig struct {
	// JobLimit bounds how many ffmpeg invocations run at once.
	JobLimit *int `yaml:"job_limit,omitempty"`
	// ListenAddr is the address the HTTP API binds to.
	ListenAddr *string `yaml:"listen_addr,omitempty"`
	// GracePeriod is how long a cancelled job may keep running after the
	// graceful signal before it is killed.
	GracePeriod  *time.Duration `yaml:"grace_period,omitempty"`
	DBPath       *string        `yaml:"db_path,omitempty"`
	FfmpegPath   *string        `yaml:"ffmpeg_path,omitempty"`
	FfprobePath  *string        `yaml:"ffprobe_path,omitempty"`
	LogDirectory *string        `yaml:"log_directory,omitempty"`
}

// DefaultConfiguration returns a config populated entirely from the built in
// defaults for the current platform.
func DefaultConfiguration() *SmeltConfig {
	c := &SmeltConfig{
		JobLimit:     new(int),
		ListenAddr:   new(string),
		GracePeriod:  new(time.Duration),
		DBPath:       new(string),
		FfmpegPath:   new(string),
		FfprobePath:  new(string),
		LogDirectory: new(string),
	}
	*c.JobLimit = defaultJobLimit
	*c.ListenAddr = defaultListenAddr
	*c.GracePeriod = defaultGracePeriod
	*c.DBPath = defaultDBPath
	*c.FfmpegPath = defaultFfmpegPath
	*c.FfprobePath = defaultFfprobePath
	*c.LogDirectory = defaultLogDirectory
	return c
}

// ParseConfig reads the yaml file at path and fills any field the file does
// not set from the defaults. A missing or unreadable file yields the default
// configuration so the service can start on a bare machine.
func ParseConfig(path string) *SmeltConfig {
	config := DefaultConfiguration()

	f, err := os.ReadFile(path)
	if err != nil {
		return config
	}

	parsed := &SmeltConfig{}
	if err := yaml.Unmarshal(f, parsed); err != nil {
		return config
	}

	if parsed.JobLimit != nil {
		config.JobLimit = parsed.JobLimit
	}
	if parsed.ListenAddr != nil {
		config.ListenAddr = parsed.ListenAddr
	}
	if parsed.GracePeriod != nil {
		config.GracePeriod = parsed.GracePeriod
	}
	if parsed.DBPath != nil {
		config.DBPath = parsed.DBPath
	}
	if parsed.FfmpegPath != nil {
		config.FfmpegPath = parsed.FfmpegPath
	}
	if parsed.FfprobePath != nil {
		config.FfprobePath = parsed.FfprobePath
	}
	if parsed.LogDirectory != nil {
		config.LogDirectory = parsed.LogDirectory
	}

	return config
}
