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

import "testing"

// Every target must appear in all three tables; a target missing from one
// would validate but build garbage, or build but never validate.
func TestTargetTablesAligned(t *testing.T) {
	for target := range targetArgs {
		if _, ok := targetOperation[target]; !ok {
			t.Errorf("target %q has args but no operation", target)
		}
		if exts, ok := targetExtensions[target]; !ok || len(exts) == 0 {
			t.Errorf("target %q has args but no allowed extensions", target)
		}
	}
	for target := range targetOperation {
		if _, ok := targetArgs[target]; !ok {
			t.Errorf("target %q has an operation but no args", target)
		}
	}
}

func TestTargetsByOperation(t *testing.T) {
	video := Targets(ConvertVideo)
	audio := Targets(ConvertAudio)
	if len(video) != 3 {
		t.Errorf("Targets(ConvertVideo) = %v, want 3 targets", video)
	}
	if len(audio) != 2 {
		t.Errorf("Targets(ConvertAudio) = %v, want 2 targets", audio)
	}
	if len(Targets(CombineAudio)) != 0 {
		t.Errorf("Targets(CombineAudio) should be empty; combining has no target choice")
	}
}
