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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/google/logger"
	template "github.com/google/safehtml/template"
	"github.com/gorilla/websocket"

	"github.com/smeltproject/smelt/internal/pkg/ffwrap/command"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The listener binds to localhost; cross origin pages on the same
	// machine are the expected clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AddRequest is the wire form of an enqueue call.
type AddRequest struct {
	Operation string            `json:"operation"`
	Channels  map[string]string `json:"channels,omitempty"`
	Source    string            `json:"source,omitempty"`
	FrameRate string            `json:"frame_rate,omitempty"`
	StartNum  int               `json:"start_number,omitempty"`
	Output    string            `json:"output"`
	Target    string            `json:"target,omitempty"`
	HWAccel   bool              `json:"hwaccel,omitempty"`
	Overwrite bool              `json:"overwrite,omitempty"`
}

func (a AddRequest) toRequest() (command.Request, error) {
	r := command.Request{
		Source:    a.Source,
		Output:    a.Output,
		Target:    command.Target(a.Target),
		HWAccel:   a.HWAccel,
		Overwrite: a.Overwrite,
	}
	switch a.Operation {
	case "combine_audio":
		r.Operation = command.CombineAudio
		for name, path := range a.Channels {
			role, ok := command.ParseRole(name)
			if !ok {
				return command.Request{}, fmt.Errorf("unknown channel role %q", name)
			}
			r.Channels = append(r.Channels, command.ChannelInput{Role: role, Path: path})
		}
		// Map iteration order is random; Build orders by layout, but a
		// deterministic request keeps the stored blob stable.
		sort.Slice(r.Channels, func(i, j int) bool { return r.Channels[i].Role < r.Channels[j].Role })
	case "convert_video":
		r.Operation = command.ConvertVideo
		if a.FrameRate != "" {
			r.Sequence = &command.Sequence{FrameRate: a.FrameRate, StartNumber: a.StartNum}
		}
	case "convert_audio":
		r.Operation = command.ConvertAudio
	default:
		return command.Request{}, fmt.Errorf("unknown operation %q", a.Operation)
	}
	return r, nil
}

// addHandler enqueues a job. The request is built once up front so callers
// get validation errors synchronously instead of a job that fails later.
func addHandler(w http.ResponseWriter, req *http.Request) {
	var a AddRequest
	if err := json.NewDecoder(req.Body).Decode(&a); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r, err := a.toRequest()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := command.Build(r); err != nil {
		var be *command.BuildError
		if errors.As(err, &be) {
			http.Error(w, be.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id, err := enqueueJob(r)
	if err != nil {
		logger.Errorf("failed to enqueue: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Infof("added job %d: %s -> %q", id, r.Operation, r.Output)
	broadcast(statusMessage{JobId: id, RefreshNeeded: true})
	fmt.Fprintf(w, `{"id": %d}`, id)
}

func cancelHandler(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(req.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "missing or invalid id", http.StatusBadRequest)
		return
	}
	if !cancelJob(id) {
		http.Error(w, "no running job with that id", http.StatusNotFound)
		return
	}
	logger.Infof("cancellation requested for job %d", id)
	fmt.Fprintf(w, `{"cancelled": %d}`, id)
}

type jobView struct {
	Id        int64
	Operation string
	Source    string
	Output    string
	State     string
	Progress  string
	Size      string
	Detail    string
	Command   string
}

func makeView(j Job) jobView {
	v := jobView{
		Id:        j.Id,
		Operation: j.Request.Operation.String(),
		Source:    j.Request.Source,
		Output:    j.Request.Output,
		State:     j.State.String(),
		Progress:  fmt.Sprintf("%.0f%%", j.Progress),
		Detail:    j.Detail,
		Command:   j.Command,
	}
	if v.Source == "" {
		v.Source = fmt.Sprintf("%d channel file(s)", len(j.Request.Channels))
	}
	if j.State == Complete {
		if fi, err := os.Stat(j.Request.Output); err == nil {
			v.Size = humanize.Bytes(uint64(fi.Size()))
		}
	}
	return v
}

type pageData struct {
	ActiveJobs    []jobView
	QueuedJobs    []jobView
	CompletedJobs []jobView
}

func statuszHandler(w http.ResponseWriter, req *http.Request) {
	var page pageData

	active, err := queryActive()
	if err != nil {
		logger.Errorf("failed to retrieve active jobs: %v", err)
	}
	queued, err := queryQueued()
	if err != nil {
		logger.Errorf("failed to retrieve queued jobs: %v", err)
	}
	completed, err := queryCompleted(50)
	if err != nil {
		logger.Errorf("failed to retrieve completed jobs: %v", err)
	}

	for _, j := range active {
		page.ActiveJobs = append(page.ActiveJobs, makeView(j))
	}
	for _, j := range queued {
		page.QueuedJobs = append(page.QueuedJobs, makeView(j))
	}
	for _, j := range completed {
		v := makeView(j)
		v.Progress = ""
		page.CompletedJobs = append(page.CompletedJobs, v)
	}

	t, err := template.New("statusz").Parse(statuszTemplate)
	if err != nil {
		logger.Errorf("fatal error parsing template: %v", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	if err := t.Execute(w, page); err != nil {
		logger.Errorf("failed to render statusz: %v", err)
	}
}

// logStream upgrades an HTTP connection to a websocket and registers it
// with the hub so the page receives live progress.
func logStream(w http.ResponseWriter, r *http.Request) {
	wsconn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("failed to upgrade websocket: %v", err)
		return
	}

	hubClient := &Client{
		hub:  wsHub,
		conn: wsconn,
		send: make(chan statusMessage, 10),
	}
	hubClient.hub.register <- hubClient
	go hubClient.writePump()
	go hubClient.readPump()
}

func routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/statusz", statuszHandler)
	mux.HandleFunc("/add", addHandler)
	mux.HandleFunc("/cancel", cancelHandler)
	mux.HandleFunc("/ws", logStream)
	return mux
}
