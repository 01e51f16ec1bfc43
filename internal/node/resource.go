// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

// Resource is one shared value reachable only through its ceiling lock.
type Resource[T any] struct {
	id    ResourceID
	table *TaskTable
	v     T
}

func newResource[T any](table *TaskTable, id ResourceID, initial T) *Resource[T] {
	return &Resource[T]{id: id, table: table, v: initial}
}

// ID returns the resource identifier
func (r *Resource[T]) ID() ResourceID {
	return r.id
}

// Lock runs fn with exclusive access to the value of r on behalf of task.
// Critical sections must be short and must not nest.
func Lock[T any](task Task, r *Resource[T], fn func(v *T)) {
	mu := r.table.lockFor(task, r.id)
	mu.Lock()
	defer mu.Unlock()
	fn(&r.v)
}

// Load returns a copy of the value of r
func Load[T any](task Task, r *Resource[T]) T {
	var out T
	Lock(task, r, func(v *T) { out = *v })
	return out
}

// Store replaces the value of r
func Store[T any](task Task, r *Resource[T], value T) {
	Lock(task, r, func(v *T) { *v = value })
}

// peek reads r under its lock without a task. Used for diagnostics only.
func peek[T any](r *Resource[T]) T {
	mu := r.table.locks[r.id]
	if mu == nil {
		return r.v
	}
	mu.Lock()
	defer mu.Unlock()
	return r.v
}
