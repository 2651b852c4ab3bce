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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/smeltproject/smelt/internal/pkg/ffwrap/command"
)

var db *sql.DB

type JobState int

const (
	Submitted JobState = iota
	Running
	Complete
	Failed
	Cancelled
)

func (s JobState) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Running:
		return "running"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

type Job struct {
	Id       int64
	Request  command.Request
	State    JobState
	RunID    string
	Progress float64
	// Command is the shell quoted ffmpeg invocation, kept for the status
	// page and bug reports.
	Command string
	// Detail carries the stderr tail for failed jobs.
	Detail   string
	Finished string
}

func initdb(path string) error {
	var err error
	db, err = sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to connect to db: %w", err)
	}

	// active_jobs is scratch state; anything left in it from a previous
	// run was orphaned by a crash and goes back to the queue.
	_, err = db.Exec(`
  CREATE TABLE IF NOT EXISTS job_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation TEXT,
    request BLOB,
    submitted TEXT
  );

  DROP TABLE IF EXISTS active_jobs;
  CREATE TABLE IF NOT EXISTS active_jobs (
    id INTEGER,
    run_id TEXT,
    job_state INTEGER,
    progress REAL,
    command TEXT,
    FOREIGN KEY (id)
      REFERENCES job_queue (id)
  );

  CREATE TABLE IF NOT EXISTS completed_jobs (
    id INTEGER PRIMARY KEY,
    run_id TEXT,
    job_state INTEGER,
    command TEXT,
    detail TEXT,
    output TEXT,
    finished TEXT
  );`)
	if err != nil {
		return fmt.Errorf("failed to init db schema: %w", err)
	}
	return nil
}

func enqueueJob(r command.Request) (int64, error) {
	blob, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	res, err := db.Exec(
		`INSERT INTO job_queue(operation, request, submitted) VALUES(?, ?, ?)`,
		r.Operation.String(), blob, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue: %w", err)
	}
	return res.LastInsertId()
}

// nextJob returns the oldest job that is neither active nor completed, or
// nil when the queue is drained.
func nextJob() (*Job, error) {
	row := db.QueryRow(`
  SELECT id, request
  FROM job_queue
  WHERE id NOT IN (SELECT id FROM completed_jobs)
    AND id NOT IN (SELECT id FROM active_jobs)
  ORDER BY id ASC
  LIMIT 1;`)

	var j Job
	var blob []byte
	if err := row.Scan(&j.Id, &blob); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to scan queue row: %w", err)
	}
	if err := json.Unmarshal(blob, &j.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request for job %d: %w", j.Id, err)
	}
	j.State = Submitted
	return &j, nil
}

func claimJob(id int64, runID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO active_jobs (id, run_id, job_state, progress) VALUES (?, ?, ?, 0)`,
		id, runID, Submitted,
	); err != nil {
		return fmt.Errorf("failed to claim job %d: %v, rollback result: %v", id, err, tx.Rollback())
	}
	return tx.Commit()
}

func updateJobState(id int64, js JobState) error {
	_, err := db.Exec(`UPDATE active_jobs SET job_state = ? WHERE id = ?`, js, id)
	if err != nil {
		return fmt.Errorf("failed to update job %d state: %w", id, err)
	}
	return nil
}

func updateJobCommand(id int64, cmdline string) error {
	_, err := db.Exec(`UPDATE active_jobs SET command = ? WHERE id = ?`, cmdline, id)
	if err != nil {
		return fmt.Errorf("failed to record command for job %d: %w", id, err)
	}
	return nil
}

func updateJobProgress(id int64, percent float64) error {
	_, err := db.Exec(`UPDATE active_jobs SET progress = ? WHERE id = ?`, percent, id)
	if err != nil {
		return fmt.Errorf("failed to update job %d progress: %w", id, err)
	}
	return nil
}

// finishJob moves a job out of active_jobs and records its terminal state.
func finishJob(j *Job, js JobState, detail string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM active_jobs WHERE id = ?`, j.Id); err != nil {
		return fmt.Errorf("failed to deactivate job %d: %v, rollback result: %v", j.Id, err, tx.Rollback())
	}
	if _, err := tx.Exec(
		`INSERT INTO completed_jobs (id, run_id, job_state, command, detail, output, finished)
     VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.Id, j.RunID, js, j.Command, detail, j.Request.Output, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to complete job %d: %v, rollback result: %v", j.Id, err, tx.Rollback())
	}
	return tx.Commit()
}

func queryQueued() ([]Job, error) {
	rows, err := db.Query(`
  SELECT id, request
  FROM job_queue
  WHERE id NOT IN (SELECT id FROM completed_jobs)
    AND id NOT IN (SELECT id FROM active_jobs)
  ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var blob []byte
		if err := rows.Scan(&j.Id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan queued job: %w", err)
		}
		if err := json.Unmarshal(blob, &j.Request); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request for job %d: %w", j.Id, err)
		}
		j.State = Submitted
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func queryActive() ([]Job, error) {
	rows, err := db.Query(`
  SELECT job_queue.id, request, run_id, job_state, progress, IFNULL(command, '')
  FROM job_queue
    JOIN active_jobs ON job_queue.id = active_jobs.id
  ORDER BY job_queue.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var blob []byte
		if err := rows.Scan(&j.Id, &blob, &j.RunID, &j.State, &j.Progress, &j.Command); err != nil {
			return nil, fmt.Errorf("failed to scan active job: %w", err)
		}
		if err := json.Unmarshal(blob, &j.Request); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request for job %d: %w", j.Id, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func queryCompleted(limit int) ([]Job, error) {
	rows, err := db.Query(`
  SELECT completed_jobs.id, request, completed_jobs.run_id, completed_jobs.job_state,
         IFNULL(completed_jobs.command, ''), IFNULL(detail, ''), finished
  FROM completed_jobs
    JOIN job_queue ON job_queue.id = completed_jobs.id
  ORDER BY completed_jobs.id DESC
  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var blob []byte
		if err := rows.Scan(&j.Id, &blob, &j.RunID, &j.State, &j.Command, &j.Detail, &j.Finished); err != nil {
			return nil, fmt.Errorf("failed to scan completed job: %w", err)
		}
		if err := json.Unmarshal(blob, &j.Request); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request for job %d: %w", j.Id, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
