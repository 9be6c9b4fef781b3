// Copyright 2023-2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//go:build linux

package native

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"connectrpc.com/http11"
	"connectrpc.com/http11/internal/netpoll"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

const maxSendfileChunk = 1 << 20

type sendfileJob struct {
	sock   *socket
	data   *http11.SendfileData
	file   *os.File
	offset int64
	queued time.Time
}

// write sends file data until the socket stops taking it.
func (j *sendfileJob) write() http11.SendfileState {
	for j.offset < j.data.End {
		count := int(min(j.data.End-j.offset, maxSendfileChunk))
		written, err := unix.Sendfile(j.sock.fd, int(j.file.Fd()), &j.offset, count)
		switch {
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			j.sock.touch()
			return http11.SendfilePending
		case err != nil, written == 0:
			j.close()
			return http11.SendfileError
		}
	}
	j.close()
	j.sock.touch()
	return http11.SendfileDone
}

func (j *sendfileJob) close() {
	_ = j.file.Close()
}

// sendfileQueue finishes file transfers that did not complete in one go.
// Jobs are keyed by socket descriptor; each waits for write readiness on a
// dedicated poller and then runs on the sendfile worker pool.
type sendfileQueue struct {
	srv     *server
	poller  *netpoll.Poller
	workers *semaphore.Weighted

	mu      sync.Mutex
	pending map[int]*sendfileJob
	wg      sync.WaitGroup
}

func newSendfileQueue(srv *server, workers int64) (*sendfileQueue, error) {
	poller, err := netpoll.New(pollBatch)
	if err != nil {
		return nil, err
	}
	return &sendfileQueue{
		srv:     srv,
		poller:  poller,
		workers: semaphore.NewWeighted(workers),
		pending: make(map[int]*sendfileJob),
	}, nil
}

func (q *sendfileQueue) add(job *sendfileJob) error {
	job.queued = time.Now()
	q.mu.Lock()
	q.pending[job.sock.fd] = job
	q.mu.Unlock()
	if err := q.poller.Arm(job.sock.fd, netpoll.ModeWrite); err != nil {
		q.mu.Lock()
		delete(q.pending, job.sock.fd)
		q.mu.Unlock()
		return err
	}
	return nil
}

// remove drops the job of fd, if any, and closes its file.
func (q *sendfileQueue) remove(fd int) {
	q.mu.Lock()
	job, ok := q.pending[fd]
	delete(q.pending, fd)
	q.mu.Unlock()
	_ = q.poller.Remove(fd)
	if ok {
		job.close()
	}
}

func (q *sendfileQueue) has(fd int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[fd]
	return ok
}

func (q *sendfileQueue) take(fd int) *sendfileJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.pending[fd]
	delete(q.pending, fd)
	return job
}

func (q *sendfileQueue) run(ctx context.Context) error {
	var events []netpoll.Event
	nextScan := time.Now().Add(scanInterval)
	for ctx.Err() == nil {
		var err error
		events, err = q.poller.Wait(events[:0], scanInterval)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if job := q.take(ev.Fd); job != nil {
				q.resume(ctx, job)
			}
		}
		if now := time.Now(); !now.Before(nextScan) {
			q.expire(now)
			nextScan = now.Add(scanInterval)
		}
	}
	return nil
}

func (q *sendfileQueue) resume(ctx context.Context, job *sendfileJob) {
	if err := q.workers.Acquire(ctx, 1); err != nil {
		job.close()
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.workers.Release(1)
		sock := job.sock
		sock.mu.Lock()
		defer sock.mu.Unlock()
		if sock.closed {
			job.close()
			return
		}
		switch job.write() {
		case http11.SendfilePending:
			if err := q.add(job); err != nil {
				job.close()
				q.srv.closeLocked(sock)
			}
		case http11.SendfileDone:
			q.srv.sendfileDoneLocked(sock, job.data.KeepAlive)
		default:
			q.srv.closeLocked(sock)
		}
	}()
}

// expire closes connections whose transfer made no progress within the
// connection timeout.
func (q *sendfileQueue) expire(now time.Time) {
	var stale []*sendfileJob
	q.mu.Lock()
	for fd, job := range q.pending {
		if now.Sub(job.sock.LastAccess()) > q.srv.cfg.ConnectionTimeout {
			stale = append(stale, job)
			delete(q.pending, fd)
		}
	}
	q.mu.Unlock()
	for _, job := range stale {
		job.close()
		sock := job.sock
		sock.mu.Lock()
		q.srv.logger.Debug("sendfile timed out", slog.String("remote", sock.remote.String()))
		q.srv.closeLocked(sock)
		sock.mu.Unlock()
	}
}

func (q *sendfileQueue) close() error {
	q.wg.Wait()
	q.mu.Lock()
	for fd, job := range q.pending {
		job.close()
		delete(q.pending, fd)
	}
	q.mu.Unlock()
	return q.poller.Close()
}
