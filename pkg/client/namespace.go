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

package client

import (
	"os"
	"sync"
)

var (
	nsMu      sync.RWMutex
	namespace *string
	nsSet     bool
)

// SetNamespace sets the ambient namespace every subsequent lookup is
// filtered by. A nil ns means the global namespace: no filtering at all.
func SetNamespace(ns *string) {
	nsMu.Lock()
	defer nsMu.Unlock()
	namespace = ns
	nsSet = true
}

// CurrentNamespace returns the ambient namespace, defaulting to
// DefaultNamespace the first time it is read if nothing has called
// SetNamespace yet.
func CurrentNamespace() *string {
	nsMu.RLock()
	if nsSet {
		defer nsMu.RUnlock()
		return namespace
	}
	nsMu.RUnlock()

	ns := DefaultNamespace()
	nsMu.Lock()
	defer nsMu.Unlock()
	if !nsSet {
		namespace = &ns
		nsSet = true
	}
	return namespace
}

// DefaultNamespace returns "user:<username>", resolving the username from
// METAFLOW_USER, then USER, then "unknown".
func DefaultNamespace() string {
	return "user:" + username()
}

func username() string {
	if u := os.Getenv("METAFLOW_USER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
