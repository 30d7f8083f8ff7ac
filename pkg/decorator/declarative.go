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

package decorator

// Parallel declares that a step fans out into a fixed number of workers
// sharing one task id with distinct ParallelIndex values. It contributes no
// lifecycle hook of its own, and neither do Resources, Conda, Pypi, and
// Kubernetes below: none of these implement any of the five capability
// interfaces, and no code in this module reads their fields (the scheduler
// takes a parallel split's width from the NumParallel its split task
// reports in its result).
type Parallel struct {
	NumNodes int
}

// Resources declares the compute footprint a step requests. The in-process
// scheduler in this engine has no external resource manager to hand these
// to, so they are carried as declared values and not enforced; neither the
// client read model nor `show` output reports them.
type Resources struct {
	CPU       string
	Memory    string
	GPU       string
	DiskSpace string
}

// Conda declares a conda environment a step should run under.
type Conda struct {
	Libraries map[string]string
	Python    string
	Disabled  bool
}

// Pypi declares a pip environment a step should run under, mutually
// exclusive with Conda in practice (the scheduler does not enforce this;
// whichever the flow definition attaches wins).
type Pypi struct {
	Packages map[string]string
	Python   string
}

// Kubernetes declares out-of-process execution on a Kubernetes cluster.
// This engine always executes steps as local subprocesses (see pkg/executor);
// Kubernetes is carried purely as a declared attribute so a flow definition
// ported from a cluster-backed deployment still type-checks and its
// attributes remain inspectable, without this engine attempting to act on
// them.
type Kubernetes struct {
	Image          string
	Namespace      string
	ServiceAccount string
	CPU            string
	Memory         string
	GPU            string
}
