/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package guard

import "github.com/prometheus/client_golang/prometheus"

// Process-wide counters across all sessions. Per-session numbers live in
// SessionStats.
var (
	metricOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handle_guard_opened_total",
		Help: "Total number of handles opened.",
	})
	metricClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handle_guard_closed_total",
		Help: "Total number of handles closed.",
	})
	metricFreed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handle_guard_freed_total",
		Help: "Total number of closed handles freed by the recycling policy.",
	})
	metricRecycled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handle_guard_recycled_total",
		Help: "Total number of entity slots reused in place at open time.",
	})
	metricUsageFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handle_guard_usage_faults_total",
		Help: "Total number of detected handle usage faults.",
	})
	metricReclaimFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handle_guard_reclaim_failures_total",
		Help: "Total number of raw data reclaim failures (leaks).",
	})
	gaugeOpenHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "handle_guard_open_handles",
		Help: "Number of currently open handles.",
	})
	gaugeClosedHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "handle_guard_closed_handles",
		Help: "Number of closed handles awaiting reclamation.",
	})
	gaugeLeakedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "handle_guard_protected_raw_data_bytes",
		Help: "Bytes of raw data currently protected but not reclaimed.",
	})
)

func init() {
	prometheus.MustRegister(
		metricOpened,
		metricClosed,
		metricFreed,
		metricRecycled,
		metricUsageFaults,
		metricReclaimFailures,
		gaugeOpenHandles,
		gaugeClosedHandles,
		gaugeLeakedBytes,
	)
}
