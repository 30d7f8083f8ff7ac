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

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var attemptOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flowcore_scheduler_task_attempts_total",
		Help: "Total task attempts by step and outcome",
	},
	[]string{"step", "outcome"},
)

func recordAttemptOutcome(step, outcome string) {
	attemptOutcomes.WithLabelValues(step, outcome).Inc()
}
