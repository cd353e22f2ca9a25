/*
 * Copyright 2019 The CacheFarm Authors.
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

package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsProcessedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cachefarm",
		Subsystem: "sync",
		Name:      "rows_processed_total",
		Help:      "Foreign instruction rows successfully dispatched.",
	})
	rowsSkippedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cachefarm",
		Subsystem: "sync",
		Name:      "rows_skipped_total",
		Help:      "Own-origin instruction rows skipped while tailing.",
	})
	rowsFailedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cachefarm",
		Subsystem: "sync",
		Name:      "rows_failed_total",
		Help:      "Instruction rows that could not be parsed or applied.",
	})
	rowsDeliveredCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cachefarm",
		Subsystem: "sync",
		Name:      "rows_delivered_total",
		Help:      "Instruction rows appended by the local server.",
	})
	coldBootCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cachefarm",
		Subsystem: "sync",
		Name:      "cold_boots_total",
		Help:      "Cold boot decisions taken by the local server.",
	})
	pruneCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cachefarm",
		Subsystem: "sync",
		Name:      "prunes_total",
		Help:      "Prune operations performed by the local server.",
	})
	cursorGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cachefarm",
		Subsystem: "sync",
		Name:      "cursor",
		Help:      "Highest instruction row id fully applied by the local server.",
	})
)
