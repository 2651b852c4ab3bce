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

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smeltproject/smelt/internal/pkg/config"
	"github.com/smeltproject/smelt/internal/pkg/ffwrap"
	"github.com/smeltproject/smelt/internal/pkg/ffwrap/command"
)

func testConfig(t *testing.T) *config.SmeltConfig {
	t.Helper()
	c := config.DefaultConfiguration()
	dir := t.TempDir()
	c.LogDirectory = &dir
	return c
}

func TestCancelRegistry(t *testing.T) {
	if cancelJob(12345) {
		t.Error("cancelJob reported success for an unknown id")
	}

	fired := false
	registerCancel(1, func() { fired = true })
	if !cancelJob(1) {
		t.Error("cancelJob did not find a registered id")
	}
	if !fired {
		t.Error("cancelJob did not invoke the cancel func")
	}

	unregisterCancel(1)
	if cancelJob(1) {
		t.Error("cancelJob found an unregistered id")
	}
}

func claimedJob(t *testing.T, r command.Request) *Job {
	t.Helper()
	id, err := enqueueJob(r)
	if err != nil {
		t.Fatalf("enqueueJob: %v", err)
	}
	j := &Job{Id: id, Request: r, RunID: "test-run"}
	if err := claimJob(id, j.RunID); err != nil {
		t.Fatalf("claimJob: %v", err)
	}
	return j
}

func TestProcessJobBuildFailure(t *testing.T) {
	testdb(t)
	cfg := testConfig(t)

	// A convert with no source survives enqueue validation bypass here but
	// must land in completed_jobs as failed, never retried.
	j := claimedJob(t, command.Request{
		Operation: command.ConvertVideo,
		Output:    filepath.Join(t.TempDir(), "out.mp4"),
		Target:    command.TargetH264MP4,
	})

	processJob(context.Background(), j, cfg)

	done, err := queryCompleted(10)
	if err != nil {
		t.Fatalf("queryCompleted: %v", err)
	}
	if len(done) != 1 {
		t.Fatalf("completed jobs = %d, want 1", len(done))
	}
	if done[0].State != Failed {
		t.Errorf("job state = %v, want %v", done[0].State, Failed)
	}
	if !strings.Contains(done[0].Detail, "no source path") {
		t.Errorf("job detail = %q, want the build error", done[0].Detail)
	}

	next, err := nextJob()
	if err != nil {
		t.Fatalf("nextJob: %v", err)
	}
	if next != nil {
		t.Errorf("failed job came back through the queue: %+v", next)
	}
}

func TestRunQueueDrainsBacklogInOneTick(t *testing.T) {
	testdb(t)
	cfg := testConfig(t)
	*cfg.JobLimit = 3

	orig := ffwrap.FfmpegBinary()
	ffwrap.SetBinaryLocations(filepath.Join(t.TempDir(), "no-such-ffmpeg"), "ffprobe")
	t.Cleanup(func() { ffwrap.SetBinaryLocations(orig, "ffprobe") })

	outDir := t.TempDir()
	for i := 0; i < 3; i++ {
		_, err := enqueueJob(command.Request{
			Operation: command.ConvertVideo,
			Source:    "/in/reel.mov",
			Output:    filepath.Join(outDir, fmt.Sprintf("out%d.mp4", i)),
			Target:    command.TargetH264MP4,
			Overwrite: true,
		})
		if err != nil {
			t.Fatalf("enqueueJob: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runQueue(ctx, cfg)
	}()

	// All three jobs must be dispatched on the first tick: the spawn
	// failures land them in completed_jobs well before a second tick.
	deadline := time.Now().Add(queuePollInterval + 2*time.Second)
	var finished int
	for time.Now().Before(deadline) {
		jobs, err := queryCompleted(10)
		if err != nil {
			t.Fatalf("queryCompleted: %v", err)
		}
		finished = len(jobs)
		if finished == 3 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	<-done

	if finished != 3 {
		t.Fatalf("%d jobs finished within one poll interval, want the full backlog of 3", finished)
	}
}

func TestProcessJobSpawnFailure(t *testing.T) {
	testdb(t)
	cfg := testConfig(t)

	orig := ffwrap.FfmpegBinary()
	ffwrap.SetBinaryLocations(filepath.Join(t.TempDir(), "no-such-ffmpeg"), "ffprobe")
	t.Cleanup(func() { ffwrap.SetBinaryLocations(orig, "ffprobe") })

	j := claimedJob(t, command.Request{
		Operation: command.ConvertVideo,
		Source:    "/in/reel.mov",
		Output:    filepath.Join(t.TempDir(), "out.mp4"),
		Target:    command.TargetH264MP4,
		Overwrite: true,
	})

	processJob(context.Background(), j, cfg)

	done, err := queryCompleted(10)
	if err != nil {
		t.Fatalf("queryCompleted: %v", err)
	}
	if len(done) != 1 {
		t.Fatalf("completed jobs = %d, want 1", len(done))
	}
	if done[0].State != Failed {
		t.Errorf("job state = %v, want %v", done[0].State, Failed)
	}
	if !strings.Contains(done[0].Detail, "could not start ffmpeg") {
		t.Errorf("job detail = %q, want a spawn failure", done[0].Detail)
	}
	if done[0].Command == "" {
		t.Error("completed job has no recorded command line")
	}
}
