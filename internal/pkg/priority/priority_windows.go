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

// Package priority lowers the scheduler priority of the running process on
// windows so background encodes stay out of the way of the desktop.
package priority

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/google/logger"
	"golang.org/x/sys/windows"
)

type PROCESS_POWER_THROTTLING_STATE struct {
	Version     uint32
	ControlMask uint32
	StateMask   uint32
}

// LowerPriority sets the process to the lowest scheduler priority class and
// enables power throttling. ffmpeg children inherit the class.
func LowerPriority() error {
	ph, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION|windows.PROCESS_SET_INFORMATION, false, uint32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("windows.OpenProcess for pid: %v returned: %v", uint32(os.Getpid()), err)
	}
	defer func() {
		if err := windows.CloseHandle(ph); err != nil {
			logger.Errorf("failed to close handle after lowering priority: %v", err)
		}
	}()

	if err := windows.SetPriorityClass(ph, windows.IDLE_PRIORITY_CLASS); err != nil {
		return fmt.Errorf("windows.SetPriorityClass for pid: %v returned: %v", uint32(os.Getpid()), err)
	}

	// Ecoqos / power state throttling. 77 is the ProcessPowerThrottling
	// information class.
	t := PROCESS_POWER_THROTTLING_STATE{1, 1, 1}
	return windows.NtSetInformationProcess(ph, 77, unsafe.Pointer(&t), uint32(unsafe.Sizeof(t)))
}
