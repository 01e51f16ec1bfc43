// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package node runs the receiving gateway: a receive handler that turns the
// modem byte stream into acknowledged telemetry lines, and a timer handler
// that keeps uptime, samples the local sensor and renders status.
//
// The two handlers share state only through resources declared in a static
// task table. Each resource is guarded by the lock of its priority ceiling,
// the highest priority among the tasks that declare it. Resources with the
// same ceiling share one lock.
package node

import (
	"fmt"
	"sort"
	"sync"
)

// Task identifies a handler
type Task int

const (
	TaskReceive Task = iota
	TaskTimer
)

func (t Task) String() string {
	switch t {
	case TaskReceive:
		return "receive"
	case TaskTimer:
		return "timer"
	default:
		return fmt.Sprintf("task(%d)", int(t))
	}
}

// ResourceID identifies a shared state field
type ResourceID int

const (
	ResLastPacket ResourceID = iota
	ResPacketsReceived
	ResCRCErrors
	ResLocalTemp
	ResLocalHumidity
	ResSensorWarmup
	ResUptime
	numResources
)

var resourceNames = [numResources]string{
	ResLastPacket:      "last_packet",
	ResPacketsReceived: "packets_received",
	ResCRCErrors:       "crc_errors",
	ResLocalTemp:       "local_temp",
	ResLocalHumidity:   "local_humidity",
	ResSensorWarmup:    "sensor_warmup",
	ResUptime:          "uptime_ms",
}

func (r ResourceID) String() string {
	if r >= 0 && r < numResources {
		return resourceNames[r]
	}
	return fmt.Sprintf("resource(%d)", int(r))
}

// TaskSpec declares a handler, its priority and every resource it may lock.
type TaskSpec struct {
	Task      Task
	Priority  int
	Resources []ResourceID
}

// DefaultTasks is the gateway's task table. Both handlers run at the same
// priority, so every critical section serializes on a single lock.
var DefaultTasks = []TaskSpec{
	{
		Task:     TaskReceive,
		Priority: 1,
		Resources: []ResourceID{
			ResLastPacket, ResPacketsReceived, ResCRCErrors,
			ResLocalTemp, ResLocalHumidity, ResUptime,
		},
	},
	{
		Task:     TaskTimer,
		Priority: 1,
		Resources: []ResourceID{
			ResLastPacket, ResPacketsReceived, ResCRCErrors,
			ResLocalTemp, ResLocalHumidity, ResSensorWarmup, ResUptime,
		},
	},
}

// TaskTable holds the computed ceilings and the lock of each ceiling.
type TaskTable struct {
	allowed  map[Task]map[ResourceID]bool
	ceilings [numResources]int
	locks    [numResources]*sync.Mutex
}

// NewTaskTable computes resource ceilings from specs. A resource nobody
// declares gets no lock and can never be locked.
func NewTaskTable(specs []TaskSpec) (*TaskTable, error) {
	t := &TaskTable{allowed: make(map[Task]map[ResourceID]bool)}
	declared := [numResources]bool{}

	for _, spec := range specs {
		if _, dup := t.allowed[spec.Task]; dup {
			return nil, fmt.Errorf("task %s declared twice", spec.Task)
		}
		set := make(map[ResourceID]bool, len(spec.Resources))
		for _, r := range spec.Resources {
			if r < 0 || r >= numResources {
				return nil, fmt.Errorf("task %s declares unknown %s", spec.Task, r)
			}
			set[r] = true
			if !declared[r] || spec.Priority > t.ceilings[r] {
				t.ceilings[r] = spec.Priority
			}
			declared[r] = true
		}
		t.allowed[spec.Task] = set
	}

	byCeiling := make(map[int]*sync.Mutex)
	for r := ResourceID(0); r < numResources; r++ {
		if !declared[r] {
			continue
		}
		mu, ok := byCeiling[t.ceilings[r]]
		if !ok {
			mu = &sync.Mutex{}
			byCeiling[t.ceilings[r]] = mu
		}
		t.locks[r] = mu
	}

	return t, nil
}

// Ceiling returns the priority ceiling of r
func (t *TaskTable) Ceiling(r ResourceID) int {
	return t.ceilings[r]
}

// Ceilings returns the distinct ceilings in ascending order
func (t *TaskTable) Ceilings() []int {
	seen := map[int]bool{}
	out := []int{}
	for r := ResourceID(0); r < numResources; r++ {
		if t.locks[r] != nil && !seen[t.ceilings[r]] {
			seen[t.ceilings[r]] = true
			out = append(out, t.ceilings[r])
		}
	}
	sort.Ints(out)
	return out
}

// Allows reports whether task declared r
func (t *TaskTable) Allows(task Task, r ResourceID) bool {
	return t.allowed[task][r]
}

// lockFor returns the ceiling lock task must hold to access r. Locking an
// undeclared resource is a programming error.
func (t *TaskTable) lockFor(task Task, r ResourceID) *sync.Mutex {
	if !t.Allows(task, r) {
		panic(fmt.Sprintf("node: task %s did not declare resource %s", task, r))
	}
	return t.locks[r]
}
