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

package command

import "fmt"

// BuildReason discriminates why a request could not be turned into an
// argument vector. All of these are detected before any process is spawned
// and are recoverable by editing the request.
type BuildReason int

const (
	MissingInput BuildReason = iota
	UnsupportedFormat
	OutputCollision
	InvalidRoleMapping
)

func (r BuildReason) String() string {
	switch r {
	case MissingInput:
		return "missing input"
	case UnsupportedFormat:
		return "unsupported format"
	case OutputCollision:
		return "output collision"
	case InvalidRoleMapping:
		return "invalid role mapping"
	}
	return "unknown"
}

// BuildError is the only error type Build returns.
type BuildError struct {
	Reason BuildReason
	Detail string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func buildErrorf(reason BuildReason, format string, a ...any) *BuildError {
	return &BuildError{Reason: reason, Detail: fmt.Sprintf(format, a...)}
}
