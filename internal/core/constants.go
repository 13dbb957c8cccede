/*
Package core constants shared by the batch runner, the scheduler and the DNS
rate limiter. They are defaults; most of them can be overridden through
configuration.
*/
package core

/*
o365scan — resumable Microsoft 365 MX classification of address lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"time"
)

const (
	// --- Batch ---

	// DefaultSaveEvery is how many addresses are processed between checkpoint saves.
	// A crash re-processes at most this many addresses on restart.
	DefaultSaveEvery = 5000

	// DefaultProgressEvery is the cadence of console progress lines.
	DefaultProgressEvery = 1000

	// --- DNS ---

	// DefaultDNSTimeout is the lifetime of a single domain lookup.
	DefaultDNSTimeout = 5 * time.Second

	// --- Workers ---

	// MaxWorkers caps the number of resolution workers regardless of configuration.
	MaxWorkers = 2048

	// WindowPerWorker sizes the reorder window: at most Workers*WindowPerWorker
	// addresses are dispatched but not yet committed.
	WindowPerWorker = 64

	// WorkerQueueCapacity is the buffered queue length of each worker.
	WorkerQueueCapacity = 256

	// SubmitBackoff is how long the dispatcher waits before retrying a
	// submission that hit a full worker queue.
	SubmitBackoff = 5 * time.Millisecond
)
