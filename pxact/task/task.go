/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package task

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// A single handler that runs to completion in the event loop.
type job struct {
	fn func() error
	ch chan error
}

// Queue funnels events from any number of sources into a single goroutine.
// Jobs never run concurrently with each other; each one completes before the
// next is dequeued.
type Queue struct {
	jobCh  chan job
	stopCh chan struct{}
	active bool
	name   string
	mtx    sync.Mutex
	wg     sync.WaitGroup
}

func NewQueue(name string) *Queue {
	return &Queue{
		name: name,
	}
}

var InactiveError = fmt.Errorf("inactive event queue")

// Enqueue pushes fn onto the queue.  The handler's result is delivered over
// the returned channel.  Blocks if the queue is full.
func (q *Queue) Enqueue(fn func() error) chan error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	j := job{
		fn: fn,
		ch: make(chan error, 1),
	}

	if !q.active {
		j.ch <- InactiveError
		close(j.ch)
	} else {
		q.jobCh <- j
	}

	return j.ch
}

// Run enqueues fn and waits for it to complete.  Calling Run from inside a
// job deadlocks.
func (q *Queue) Run(fn func() error) error {
	return <-q.Enqueue(fn)
}

// RunContext is like Run but gives up waiting when ctx is done.  The job
// still runs if it was already queued.
func (q *Queue) RunContext(ctx context.Context, fn func() error) error {
	ch := q.Enqueue(fn)

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the event loop.  depth is the number of jobs that may be
// pending before Enqueue blocks.
func (q *Queue) Start(depth int) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.active {
		return fmt.Errorf("Event queue started twice \"%s\"", q.name)
	}
	q.active = true

	jobCh := make(chan job, depth)
	q.jobCh = jobCh

	stopCh := make(chan struct{})
	q.stopCh = stopCh

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		for {
			select {
			case j, ok := <-jobCh:
				if ok {
					j.ch <- j.fn()
					close(j.ch)
				}

			case <-stopCh:
				return
			}
		}
	}()

	return nil
}

// Stop terminates the event loop.  Jobs still queued fail with cause.  This
// blocks until the loop returns, so it must not be called from a job.
func (q *Queue) Stop(cause error) error {
	if err := q.StopNoWait(cause); err != nil {
		return err
	}

	q.wg.Wait()
	return nil
}

// StopNoWait initiates termination of the event loop without waiting for it
// to return.
func (q *Queue) StopNoWait(cause error) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if !q.active {
		return fmt.Errorf("Event queue stopped twice \"%s\"", q.name)
	}

	log.Debugf("event queue \"%s\" stopping: %v", q.name, cause)
	close(q.stopCh)

	// Fail anything the loop didn't get to.
	close(q.jobCh)
	for j := range q.jobCh {
		j.ch <- cause
		close(j.ch)
	}

	q.active = false

	return nil
}
