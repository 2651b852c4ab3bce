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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"golang.org/x/sync/semaphore"

	"github.com/smeltproject/smelt/internal/pkg/config"
	"github.com/smeltproject/smelt/internal/pkg/ffwrap"
	"github.com/smeltproject/smelt/internal/pkg/ffwrap/command"
)

const queuePollInterval = 2 * time.Second

var (
	cancelMu      sync.Mutex
	activeCancels = map[int64]context.CancelFunc{}
)

func registerCancel(id int64, cancel context.CancelFunc) {
	cancelMu.Lock()
	defer cancelMu.Unlock()
	activeCancels[id] = cancel
}

func unregisterCancel(id int64) {
	cancelMu.Lock()
	defer cancelMu.Unlock()
	delete(activeCancels, id)
}

// cancelJob cancels a running job by id. Returns false when the id is not
// currently running; queued jobs cannot be cancelled, only running ones.
func cancelJob(id int64) bool {
	cancelMu.Lock()
	defer cancelMu.Unlock()
	cancel, ok := activeCancels[id]
	if ok {
		cancel()
	}
	return ok
}

// runQueue polls the queue and dispatches jobs until ctx is cancelled. At
// most cfg.JobLimit jobs run concurrently; dispatch order is strictly FIFO.
func runQueue(ctx context.Context, cfg *config.SmeltConfig) error {
	if err := lowerPriority(); err != nil {
		logger.Warningf("could not lower process priority: %v", err)
	}

	sem := semaphore.NewWeighted(int64(*cfg.JobLimit))
	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// Dispatch until the queue drains or every slot is busy, so a
		// backlog saturates job_limit within one tick.
		for sem.TryAcquire(1) {
			job, err := nextJob()
			if err != nil {
				sem.Release(1)
				logger.Errorf("failed to fetch next job: %v", err)
				break
			}
			if job == nil {
				sem.Release(1)
				break
			}

			job.RunID = uuid.NewString()
			if err := claimJob(job.Id, job.RunID); err != nil {
				sem.Release(1)
				logger.Errorf("failed to claim job %d: %v", job.Id, err)
				break
			}

			go func(j *Job) {
				defer sem.Release(1)
				processJob(ctx, j, cfg)
			}(job)
		}
	}
}

// processJob builds and runs one job, recording progress and the terminal
// state. A failed or cancelled job is never retried.
func processJob(ctx context.Context, j *Job, cfg *config.SmeltConfig) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	registerCancel(j.Id, cancel)
	defer unregisterCancel(j.Id)

	argv, err := command.Build(j.Request)
	if err != nil {
		logger.Errorf("job %d failed to build: %v", j.Id, err)
		if err := finishJob(j, Failed, err.Error()); err != nil {
			logger.Errorf("failed to record job %d result: %v", j.Id, err)
		}
		broadcast(statusMessage{JobId: j.Id, RunId: j.RunID, RefreshNeeded: true})
		return
	}

	j.Command = shellquote.Join(append([]string{ffwrap.FfmpegBinary()}, argv...)...)
	logger.Infof("job %d running: %s", j.Id, j.Command)
	if err := updateJobCommand(j.Id, j.Command); err != nil {
		logger.Errorf("%v", err)
	}
	if err := updateJobState(j.Id, Running); err != nil {
		logger.Errorf("%v", err)
	}

	logPath := filepath.Join(*cfg.LogDirectory, fmt.Sprintf("smelt-%s.log", j.RunID))
	logFile, err := os.Create(logPath)
	if err != nil {
		logger.Errorf("job %d: failed to open run log %q: %v", j.Id, logPath, err)
		logFile = nil
	} else {
		defer logFile.Close()
		fmt.Fprintln(logFile, j.Command)
	}

	// Seed the tracker from ffprobe where the source has a container
	// duration; image sequences fall back to the Duration stderr line,
	// which never comes, leaving their progress indeterminate.
	var total time.Duration
	if j.Request.Source != "" && j.Request.Sequence == nil {
		if d, err := ffwrap.ProbeDuration(jobCtx, j.Request.Source); err == nil {
			total = d
		}
	}
	tracker := ffwrap.NewTracker(total)

	var lastPercent float64
	outcome := ffwrap.Run(jobCtx, argv, func(line string) {
		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}
		msg := statusMessage{JobId: j.Id, RunId: j.RunID, Line: line}
		if pct, ok := tracker.Observe(line); ok {
			// Whole percent granularity keeps the db write rate sane on
			// fast encodes.
			if pct-lastPercent >= 1 {
				lastPercent = pct
				if err := updateJobProgress(j.Id, pct); err != nil {
					logger.Errorf("%v", err)
				}
			}
			msg.Progress = pct
		}
		broadcast(msg)
	})

	switch outcome.State {
	case ffwrap.Succeeded:
		logger.Infof("job %d complete", j.Id)
		if err := finishJob(j, Complete, ""); err != nil {
			logger.Errorf("failed to record job %d result: %v", j.Id, err)
		}
	case ffwrap.Cancelled:
		logger.Infof("job %d cancelled", j.Id)
		if err := finishJob(j, Cancelled, ""); err != nil {
			logger.Errorf("failed to record job %d result: %v", j.Id, err)
		}
	case ffwrap.SpawnFailed:
		logger.Errorf("job %d spawn failed: %v", j.Id, outcome.Err)
		if err := finishJob(j, Failed, fmt.Sprintf("could not start ffmpeg: %v", outcome.Err)); err != nil {
			logger.Errorf("failed to record job %d result: %v", j.Id, err)
		}
	default:
		logger.Errorf("job %d failed with exit code %d, log at %q", j.Id, outcome.ExitCode, logPath)
		detail := fmt.Sprintf("exit code %d\n%s", outcome.ExitCode, outcome.StderrTail)
		if err := finishJob(j, Failed, detail); err != nil {
			logger.Errorf("failed to record job %d result: %v", j.Id, err)
		}
	}
	broadcast(statusMessage{JobId: j.Id, RunId: j.RunID, RefreshNeeded: true})
}
