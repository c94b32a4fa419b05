package wps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nci/geoserve/metrics"
	"github.com/nci/geoserve/utils"
)

type ExecutionStatus string

const (
	StatusAccepted  ExecutionStatus = "ACCEPTED"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusSucceeded ExecutionStatus = "SUCCEEDED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusDismissed ExecutionStatus = "DISMISSED"
)

// Execution is a snapshot of one process execution.
type Execution struct {
	ID         string
	Request    *ExecuteRequest
	Descriptor ProcessDescriptor
	Status     ExecutionStatus
	Percent    int
	Created    time.Time
	Finished   time.Time
	Results    map[string]Data
	Err        *Exception
}

func (e *Execution) clone() *Execution {
	c := *e
	if e.Results != nil {
		c.Results = make(map[string]Data, len(e.Results))
		for k, v := range e.Results {
			c.Results[k] = v
		}
	}
	return &c
}

// RemoteExecutor runs an Execute request, with resolved inputs, on a
// worker node and returns the encoded outputs.
type RemoteExecutor interface {
	Execute(ctx context.Context, req *ExecuteRequest) (map[string]Data, error)
}

// Cache stores encoded synchronous results.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

type execution struct {
	info   *Execution
	cancel context.CancelFunc
}

// ExecutionManager runs processes. Synchronous executions are bounded by
// a semaphore; asynchronous ones are queued and picked up by a fixed set of
// workers. Finished asynchronous executions are kept until they expire.
type ExecutionManager struct {
	Resolver *ReferenceResolver
	Verbose  bool

	registry  *Registry
	cfg       utils.WPSConfig
	remote    RemoteExecutor
	cache     Cache
	localOnly map[string]bool

	syncSem chan struct{}
	queue   chan string

	mu         sync.Mutex
	executions map[string]*execution

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecutionManager starts the asynchronous workers and the expiry
// sweeper. remote and cache may be nil.
func NewExecutionManager(registry *Registry, cfg utils.WPSConfig, remote RemoteExecutor, cache Cache) *ExecutionManager {
	cfg = withDefaults(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	m := &ExecutionManager{
		registry:   registry,
		cfg:        cfg,
		remote:     remote,
		cache:      cache,
		localOnly:  make(map[string]bool),
		syncSem:    make(chan struct{}, cfg.MaxSynchronous),
		queue:      make(chan string, cfg.MaxQueued),
		executions: make(map[string]*execution),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, id := range cfg.LocalOnly {
		m.localOnly[strings.ToLower(id)] = true
	}
	for i := 0; i < cfg.MaxAsynchronous; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.wg.Add(1)
	go m.sweeper()
	return m
}

func withDefaults(cfg utils.WPSConfig) utils.WPSConfig {
	if cfg.MaxSynchronous <= 0 {
		cfg.MaxSynchronous = 10
	}
	if cfg.MaxAsynchronous <= 0 {
		cfg.MaxAsynchronous = 4
	}
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = 100
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = 600
	}
	if cfg.ResourceExpiration <= 0 {
		cfg.ResourceExpiration = 7200
	}
	return cfg
}

// Close cancels running executions and stops the workers.
func (m *ExecutionManager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *ExecutionManager) Registry() *Registry {
	return m.registry
}

func (m *ExecutionManager) lookup(req *ExecuteRequest) (Process, ProcessDescriptor, error) {
	p, ok := m.registry.Get(req.Identifier)
	if !ok {
		return nil, ProcessDescriptor{}, Errorf(NoSuchProcess, req.Identifier, "no such process %s", req.Identifier)
	}
	desc := p.Describe()
	req.Identifier = desc.Identifier
	if err := Validate(desc, req); err != nil {
		return nil, desc, err
	}
	return p, desc, nil
}

// Submit validates req and runs it. Synchronous requests return once the
// execution finished, successfully or not; asynchronous ones return the
// accepted record. Validation failures and overload are returned as
// errors.
func (m *ExecutionManager) Submit(ctx context.Context, req *ExecuteRequest) (*Execution, error) {
	p, desc, err := m.lookup(req)
	if err != nil {
		return nil, err
	}
	exec := &Execution{
		ID:         uuid.New().String(),
		Request:    req,
		Descriptor: desc,
		Status:     StatusAccepted,
		Created:    time.Now().UTC(),
	}
	if req.Async() {
		return m.enqueue(exec)
	}

	select {
	case m.syncSem <- struct{}{}:
		defer func() { <-m.syncSem }()
	default:
		return nil, Errorf(ServerBusy, "", "maximum number of synchronous executions reached, try again later")
	}

	key := m.cacheKey(req)
	if key != "" {
		if body, ok := m.cache.Get(key); ok {
			var results map[string]Data
			if err := json.Unmarshal(body, &results); err == nil {
				exec.Status, exec.Percent, exec.Results = StatusSucceeded, 100, results
				exec.Finished = time.Now().UTC()
				return exec, nil
			}
		}
	}

	exec.Status = StatusRunning
	results, err := m.run(ctx, p, desc, req, nil)
	m.finish(exec, results, err)
	if err == nil && key != "" {
		if body, err := json.Marshal(results); err == nil {
			if err := m.cache.Put(key, body); err != nil {
				log.Printf("WPS: %v", err)
			}
		}
	}
	return exec, nil
}

// Run executes req synchronously without admission control, as used by
// worker nodes that bound concurrency themselves.
func (m *ExecutionManager) Run(ctx context.Context, req *ExecuteRequest) (map[string]Data, error) {
	p, desc, err := m.lookup(req)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, p, desc, req, nil)
}

func (m *ExecutionManager) cacheKey(req *ExecuteRequest) string {
	if m.cache == nil {
		return ""
	}
	var outs []string
	if req.RawOutput != nil {
		outs = append(outs, "raw:"+req.RawOutput.Identifier+"@"+req.RawOutput.MimeType)
	}
	for _, o := range req.Outputs {
		outs = append(outs, o.Identifier+"@"+o.MimeType)
	}
	return utils.CacheKey("wps", req.Identifier, req.KVP(), strings.Join(outs, ";"))
}

func (m *ExecutionManager) enqueue(exec *Execution) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case m.queue <- exec.ID:
	default:
		return nil, Errorf(ServerBusy, "", "execution queue is full, try again later")
	}
	m.executions[exec.ID] = &execution{info: exec}
	return exec.clone(), nil
}

func (m *ExecutionManager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case id := <-m.queue:
			m.runQueued(id)
		}
	}
}

func (m *ExecutionManager) runQueued(id string) {
	m.mu.Lock()
	e, ok := m.executions[id]
	if !ok || e.info.Status != StatusAccepted {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	e.cancel = cancel
	e.info.Status = StatusRunning
	req := e.info.Request
	m.mu.Unlock()
	defer cancel()

	p, ok := m.registry.Get(req.Identifier)
	if !ok {
		m.complete(id, nil, Errorf(NoSuchProcess, req.Identifier, "no such process %s", req.Identifier))
		return
	}
	progress := NewProgress(func(percent int) {
		m.mu.Lock()
		if e, ok := m.executions[id]; ok {
			e.info.Percent = percent
		}
		m.mu.Unlock()
	})
	results, err := m.run(ctx, p, p.Describe(), req, progress)
	m.complete(id, results, err)
}

// complete stores the outcome unless the execution was dismissed meanwhile.
func (m *ExecutionManager) complete(id string, results map[string]Data, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return
	}
	m.finish(e.info, results, err)
	e.cancel = nil
}

func (m *ExecutionManager) finish(exec *Execution, results map[string]Data, err error) {
	exec.Finished = time.Now().UTC()
	if err != nil {
		exec.Status = StatusFailed
		exec.Err = AsException(err)
	} else {
		exec.Status = StatusSucceeded
		exec.Percent = 100
		exec.Results = results
	}
	metrics.ObserveExecution(exec.Descriptor.Identifier, string(exec.Status), exec.Finished.Sub(exec.Created).Seconds())
	if m.Verbose {
		log.Printf("WPS: %s %s %s in %v", exec.ID, exec.Descriptor.Identifier, exec.Status, exec.Finished.Sub(exec.Created))
	}
}

// run resolves references, then executes remotely when possible and
// locally otherwise.
func (m *ExecutionManager) run(ctx context.Context, p Process, desc ProcessDescriptor, req *ExecuteRequest, progress *Progress) (map[string]Data, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ExecutionTimeout())
	defer cancel()

	resolved, err := m.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if m.remote != nil && !m.localOnly[strings.ToLower(desc.Identifier)] {
		results, err := m.remote.Execute(ctx, resolved)
		if err == nil {
			return results, nil
		}
		var e *Exception
		if errors.As(err, &e) {
			return nil, e
		}
		log.Printf("WPS: remote execution of %s failed, running locally: %v", desc.Identifier, err)
	}

	outputs, err := m.execute(ctx, p, desc, resolved, progress)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, Errorf(NoApplicableCode, "", "execution exceeded the maximum execution time of %v", m.cfg.ExecutionTimeout())
		}
		return nil, err
	}
	return EncodeOutputs(desc, resolved, outputs)
}

func (m *ExecutionManager) resolve(ctx context.Context, req *ExecuteRequest) (*ExecuteRequest, error) {
	out := *req
	out.Inputs = make([]InputValue, len(req.Inputs))
	for i, in := range req.Inputs {
		if in.Reference != nil {
			if m.Resolver == nil {
				return nil, InvalidParam(in.Identifier, "references are not supported")
			}
			d, err := m.Resolver.Resolve(ctx, in.Identifier, in.Reference)
			if err != nil {
				return nil, err
			}
			if in.Reference.MimeType != "" {
				d.MimeType = in.Reference.MimeType
			}
			in = InputValue{Identifier: in.Identifier, Data: d}
		}
		if m.cfg.MaxInputSize > 0 && int64(len(in.Data.Value)) > m.cfg.MaxInputSize {
			return nil, InvalidParam(in.Identifier, "input %s exceeds the maximum size of %d bytes", in.Identifier, m.cfg.MaxInputSize)
		}
		out.Inputs[i] = in
	}
	return &out, nil
}

// execute calls the process, turning panics into exceptions.
func (m *ExecutionManager) execute(ctx context.Context, p Process, desc ProcessDescriptor, req *ExecuteRequest, progress *Progress) (outs Outputs, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WPS: %s panicked: %v\n%s", desc.Identifier, r, debug.Stack())
			outs, err = nil, Errorf(NoApplicableCode, "", "process %s failed: %v", desc.Identifier, r)
		}
	}()
	in := BuildInputs(desc, req)
	if progress == nil {
		progress = NewProgress(nil)
	}
	return p.Execute(ctx, in, progress)
}

// BuildInputs collects the request values and applies literal defaults.
func BuildInputs(desc ProcessDescriptor, req *ExecuteRequest) *Inputs {
	in := NewInputs()
	for _, v := range req.Inputs {
		in.Add(v.Identifier, v.Data)
	}
	for _, d := range desc.Inputs {
		if d.Literal != nil && d.Literal.Default != "" && !in.Has(d.Identifier) {
			in.Add(d.Identifier, Data{Value: []byte(d.Literal.Default)})
		}
	}
	return in
}

// EncodeOutputs encodes the requested outputs, or every output the process
// produced when none were requested.
func EncodeOutputs(desc ProcessDescriptor, req *ExecuteRequest, outs Outputs) (map[string]Data, error) {
	requested := req.Outputs
	if req.RawOutput != nil {
		requested = []OutputRequest{*req.RawOutput}
	}
	explicit := len(requested) > 0
	if !explicit {
		for _, o := range desc.Outputs {
			requested = append(requested, OutputRequest{Identifier: o.Identifier})
		}
	}

	results := make(map[string]Data, len(requested))
	for _, r := range requested {
		value, ok := outs[r.Identifier]
		if !ok {
			if explicit {
				return nil, Errorf(NoApplicableCode, r.Identifier, "process %s did not produce output %s", desc.Identifier, r.Identifier)
			}
			continue
		}
		mime := r.MimeType
		if d, ok := desc.Output(r.Identifier); ok && mime == "" && d.Complex != nil {
			mime = d.Complex.DefaultFormat()
		}
		data, err := Encode(value, mime)
		if err != nil {
			return nil, Errorf(NoApplicableCode, r.Identifier, "encoding output %s: %v", r.Identifier, err)
		}
		if r.MimeType != "" {
			data.MimeType = r.MimeType
		}
		results[r.Identifier] = data
	}
	return results, nil
}

func unknownExecution(id string) *Exception {
	return Errorf(NoApplicableCode, "executionId", "unknown execution %s", id)
}

// Status returns the current state of an asynchronous execution.
func (m *ExecutionManager) Status(id string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, unknownExecution(id)
	}
	return e.info.clone(), nil
}

// Result returns one encoded output of a finished execution. outputID may
// be empty when the process has a single output.
func (m *ExecutionManager) Result(id, outputID string) (Data, error) {
	exec, err := m.Status(id)
	if err != nil {
		return Data{}, err
	}
	switch exec.Status {
	case StatusFailed:
		return Data{}, exec.Err
	case StatusSucceeded:
	default:
		return Data{}, Errorf(NoApplicableCode, "executionId", "execution %s is not complete", id)
	}
	if outputID == "" {
		if len(exec.Results) == 1 {
			for _, d := range exec.Results {
				return d, nil
			}
		}
		return Data{}, MissingParam("outputId")
	}
	d, ok := exec.Results[outputID]
	if !ok {
		return Data{}, InvalidParam("outputId", "unknown output %s", outputID)
	}
	return d, nil
}

// Dismiss cancels an execution and forgets it.
func (m *ExecutionManager) Dismiss(id string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, unknownExecution(id)
	}
	if e.cancel != nil {
		e.cancel()
	}
	delete(m.executions, id)
	info := e.info.clone()
	info.Status = StatusDismissed
	info.Finished = time.Now().UTC()
	return info, nil
}

func (m *ExecutionManager) sweeper() {
	defer m.wg.Done()
	interval := m.cfg.Expiration() / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.expire(now)
		}
	}
}

func (m *ExecutionManager) expire(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.executions {
		if e.info.Finished.IsZero() {
			continue
		}
		if now.Sub(e.info.Finished) > m.cfg.Expiration() {
			delete(m.executions, id)
			n++
		}
	}
	if n > 0 && m.Verbose {
		log.Printf("WPS: expired %d executions", n)
	}
	return n
}

func (m *ExecutionManager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("ExecutionManager{executions: %d, queued: %d}", len(m.executions), len(m.queue))
}
