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

package ffwrap

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/logger"
)

// State classifies how an invocation ended.
type State int

const (
	Succeeded State = iota
	Failed
	Cancelled
	SpawnFailed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case SpawnFailed:
		return "spawn failed"
	}
	return "unknown"
}

// Outcome is the normalized result of one ffmpeg run. Run never lets a raw
// OS error escape; whatever happens lands in one of the four states with
// the stderr tail attached for failure reports.
type Outcome struct {
	State      State
	ExitCode   int
	StderrTail string
	Err        error
}

// tailLines is how much trailing stderr a failure report keeps. ffmpeg puts
// the actionable message in its final lines; everything earlier is banner
// and stream mapping noise.
const tailLines = 20

var gracePeriod = 5 * time.Second

// SetGracePeriod adjusts how long a cancelled process gets between the
// graceful signal and the kill.
func SetGracePeriod(d time.Duration) {
	gracePeriod = d
}

// Run executes ffmpeg with the given argument vector. Each stderr line is
// delivered to onLine as it arrives (ffmpeg reports progress on stderr).
// When ctx is cancelled the process is interrupted, then killed once the
// grace period lapses, and the outcome is Cancelled.
func Run(ctx context.Context, argv []string, onLine func(string)) Outcome {
	cmd := exec.Command(ffmpegbinary, argv...)
	cmd.Stdout = io.Discard

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{State: SpawnFailed, ExitCode: -1, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return Outcome{State: SpawnFailed, ExitCode: -1, Err: err}
	}

	tail := make([]string, 0, tailLines)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		sc.Split(scanProgressLines)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if len(tail) == tailLines {
				copy(tail, tail[1:])
				tail = tail[:tailLines-1]
			}
			tail = append(tail, line)
			if onLine != nil {
				onLine(line)
			}
		}
	}()

	// Wait only after the stderr reader drains, per the os/exec contract.
	waitCh := make(chan error, 1)
	go func() {
		<-scanDone
		waitCh <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		terminate(cmd.Process)
		select {
		case <-waitCh:
		case <-time.After(gracePeriod):
			logger.Warningf("pid %d ignored interrupt, killing", cmd.Process.Pid)
			if err := cmd.Process.Kill(); err != nil {
				logger.Errorf("kill pid %d: %v", cmd.Process.Pid, err)
			}
			<-waitCh
		}
		return Outcome{State: Cancelled, ExitCode: -1, StderrTail: strings.Join(tail, "\n"), Err: ctx.Err()}

	case err := <-waitCh:
		if err == nil {
			return Outcome{State: Succeeded}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Outcome{
				State:      Failed,
				ExitCode:   exitErr.ExitCode(),
				StderrTail: strings.Join(tail, "\n"),
				Err:        err,
			}
		}
		return Outcome{State: Failed, ExitCode: -1, StderrTail: strings.Join(tail, "\n"), Err: err}
	}
}

// terminate asks the process to stop gracefully so ffmpeg can finalize its
// output. Platforms without Interrupt delivery fall straight through to
// Kill.
func terminate(p *os.Process) {
	if err := p.Signal(os.Interrupt); err != nil {
		if err := p.Kill(); err != nil {
			logger.Errorf("kill pid %d: %v", p.Pid, err)
		}
	}
}

// scanProgressLines splits on \n like bufio.ScanLines but also on \r, which
// ffmpeg uses to repaint its progress line in place.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
