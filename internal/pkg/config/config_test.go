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

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func buildFromConstants(t *testing.T) *SmeltConfig {
	t.Helper()
	df := &SmeltConfig{
		JobLimit:     new(int),
		ListenAddr:   new(string),
		GracePeriod:  new(time.Duration),
		DBPath:       new(string),
		FfmpegPath:   new(string),
		FfprobePath:  new(string),
		LogDirectory: new(string),
	}
	*df.JobLimit = defaultJobLimit
	*df.ListenAddr = defaultListenAddr
	*df.GracePeriod = defaultGracePeriod
	*df.DBPath = defaultDBPath
	*df.FfmpegPath = defaultFfmpegPath
	*df.FfprobePath = defaultFfprobePath
	*df.LogDirectory = defaultLogDirectory
	return df
}

func TestDefaultConfiguration(t *testing.T) {
	tests := []struct {
		name string
		want *SmeltConfig
	}{
		{
			name: "default configuration",
			want: buildFromConstants(t),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultConfiguration(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DefaultConfiguration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseConfigMissingFile(t *testing.T) {
	got := ParseConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !reflect.DeepEqual(got, DefaultConfiguration()) {
		t.Errorf("ParseConfig on missing file = %v, want defaults", got)
	}
}

func TestParseConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "job_limit: 3\nffmpeg_path: /opt/ffmpeg/bin/ffmpeg\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got := ParseConfig(path)
	if *got.JobLimit != 3 {
		t.Errorf("JobLimit = %d, want 3", *got.JobLimit)
	}
	if *got.FfmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("FfmpegPath = %q, want /opt/ffmpeg/bin/ffmpeg", *got.FfmpegPath)
	}
	// Unset fields keep defaults.
	if *got.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want default %q", *got.DBPath, defaultDBPath)
	}
	if *got.GracePeriod != defaultGracePeriod {
		t.Errorf("GracePeriod = %v, want default %v", *got.GracePeriod, defaultGracePeriod)
	}
}
