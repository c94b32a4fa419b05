package wpsservice

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nci/geoserve/wps"
)

// Task is one queued execution. Exactly one of Resp or Error receives.
type Task struct {
	Context context.Context
	Payload *RemoteRequest
	Resp    chan *RemoteResponse
	Error   chan error
}

// ProcessPool runs queued tasks on a fixed number of workers.
type ProcessPool struct {
	TaskQueue chan *Task
	Manager   *wps.ExecutionManager
	Debug     bool

	wg sync.WaitGroup
}

const queueSize = 400

func CreateProcessPool(n int, manager *wps.ExecutionManager, debug bool) *ProcessPool {
	if n <= 0 {
		n = 1
	}
	p := &ProcessPool{TaskQueue: make(chan *Task, queueSize), Manager: manager, Debug: debug}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

// AddQueue enqueues task, failing it straight away when the queue is
// nearly full.
func (p *ProcessPool) AddQueue(task *Task) {
	if len(p.TaskQueue) > queueSize-10 {
		task.Error <- fmt.Errorf("Pool TaskQueue is full")
		return
	}
	p.TaskQueue <- task
}

func (p *ProcessPool) work(id int) {
	defer p.wg.Done()
	for task := range p.TaskQueue {
		if err := task.Context.Err(); err != nil {
			task.Error <- err
			continue
		}
		if p.Debug {
			log.Printf("worker %d: executing %s", id, task.Payload.Identifier)
		}
		results, err := p.Manager.Run(task.Context, task.Payload.ExecuteRequest())
		resp := &RemoteResponse{Outputs: results}
		if err != nil {
			resp = &RemoteResponse{Error: wps.AsException(err)}
		}
		task.Resp <- resp
	}
}

// DeleteProcessPool stops accepting tasks and waits for the running ones.
func (p *ProcessPool) DeleteProcessPool() {
	close(p.TaskQueue)
	p.wg.Wait()
	p.Manager.Close()
}
