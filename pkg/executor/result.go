// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import "io"

// ExceptionPayload is what a failing child attempts to serialise into the
// result frame before exiting 1. It carries only the failure's Kind and
// Message; the underlying cause chain is not serialised.
type ExceptionPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TaskResult is the single frame a child writes back to the parent over
// the result pipe. A successful attempt sets Success and, depending on the
// step's transition kind, one of TakenBranch (switch), NumSplits (foreach),
// or NumParallel (num_parallel); a failed attempt sets Exception instead.
type TaskResult struct {
	Success     bool              `json:"success"`
	TakenBranch string            `json:"taken_branch,omitempty"`
	NumSplits   int               `json:"num_splits,omitempty"`
	Unbounded   bool              `json:"unbounded,omitempty"`
	NumParallel int               `json:"num_parallel,omitempty"`
	Exception   *ExceptionPayload `json:"exception,omitempty"`
}

// WriteResult writes res as the single IPC frame a child sends before
// exiting.
func WriteResult(w io.Writer, res TaskResult) error {
	return WriteJSON(w, res)
}

// ReadResult reads the single IPC frame a child sent before exiting.
func ReadResult(r io.Reader) (TaskResult, error) {
	var res TaskResult
	err := ReadJSON(r, &res)
	return res, err
}
