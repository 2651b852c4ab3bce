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

//go:build linux || darwin
// +build linux darwin

package main

import (
	"fmt"
	"os"
	"syscall"
)

// lowerPriority drops the service to a low scheduler priority before the
// queue starts so encodes never starve interactive work on the machine.
// Child ffmpeg processes inherit the nice value.
func lowerPriority() error {
	niceValue := 10 // range is -20 to 19, lower is more favorably scheduled
	err := syscall.Setpriority(syscall.PRIO_PROCESS, os.Getpid(), niceValue)
	if err != nil {
		return fmt.Errorf("Setpriority for pid: %v returned: %v", os.Getpid(), err)
	}

	return nil
}
