// SPDX-License-Identifier: MPL-2.0

package modsys

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/invowk/modhost/internal/lifecycle"
	"github.com/invowk/modhost/pkg/moddef"
)

type (
	// Engine resolves module definitions into live instances.
	//
	// One worker goroutine, started by Start, performs every change to the
	// instance graph. Instance, Resolve, Release and the accessors are safe
	// for concurrent use.
	Engine struct {
		logger          *log.Logger
		registry        *Registry
		observer        Observer
		defaultImport   ImportPolicy
		defaultOverride OverridePolicy
		registerer      prometheus.Registerer
		metrics         *metrics
		runner          *lifecycle.Runner

		// mu guards the identity cache and the queues fed by other goroutines.
		mu     sync.Mutex
		cache  map[*moddef.Definition]*Instance
		intake []*Instance
		ops    []func()
		nextID uint64
		wake   chan struct{}

		// graphMu guards instance graph fields for readers off the worker.
		graphMu sync.RWMutex

		// Worker-only.
		pending []*Instance
		stack   map[*Instance]struct{}
	}

	// Option configures an Engine.
	Option func(*Engine)

	drainKey struct{}

	// drainToken marks a context handed to hooks by the worker. Resolve
	// called with it while the hook runs drives the worker loop inline
	// instead of waiting.
	drainToken struct {
		engine  *Engine
		current *Instance
		active  *atomic.Bool
	}
)

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegistry sets the registry hooks named by definitions are looked up in.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithRegisterer registers the engine's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = reg }
}

// WithObserver receives an Event for every instance change.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithDefaultImportPolicy replaces DefaultImportPolicy for definitions that
// do not name an import policy. It is also the fallback passed to custom policies.
func WithDefaultImportPolicy(p ImportPolicy) Option {
	return func(e *Engine) { e.defaultImport = p }
}

// WithDefaultOverridePolicy replaces IdentityOverridePolicy for definitions
// that do not name an override policy.
func WithDefaultOverridePolicy(p OverridePolicy) Option {
	return func(e *Engine) { e.defaultOverride = p }
}

// New constructs an engine. Call Start before waiting on any resolution.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:          log.NewWithOptions(os.Stderr, log.Options{Prefix: "modsys", Level: log.WarnLevel}),
		registry:        NewRegistry(),
		defaultImport:   DefaultImportPolicy{},
		defaultOverride: IdentityOverridePolicy{},
		metrics:         newMetrics(),
		runner:          lifecycle.New(),
		cache:           make(map[*moddef.Definition]*Instance),
		wake:            make(chan struct{}, 1),
		stack:           make(map[*Instance]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registerer != nil {
		if err := e.metrics.register(e.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return e, nil
}

// Start launches the worker goroutine. Cancelling ctx afterwards does not
// stop it; Close does.
func (e *Engine) Start(ctx context.Context) error {
	return e.runner.Start(ctx, e.work)
}

// Close stops the worker and waits for it to exit. Waiting Resolve and
// Release calls return ErrEngineClosed; instances are left as they are.
func (e *Engine) Close() {
	e.runner.Stop()
}

// Registry returns the engine's hook registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Instance returns the cached instance for def, creating and queueing a new
// one if there is none. It never blocks on resolution.
func (e *Engine) Instance(def *moddef.Definition) *Instance {
	e.mu.Lock()
	inst, ok := e.cache[def]
	if !ok {
		e.nextID++
		inst = newInstance(e, e.nextID, def)
		e.cache[def] = inst
		e.intake = append(e.intake, inst)
	}
	e.mu.Unlock()
	if !ok {
		e.metrics.created.Inc()
		e.notify()
	}
	return inst
}

// Lookup returns the cached instance for def, or nil.
func (e *Engine) Lookup(def *moddef.Definition) *Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache[def]
}

// Instances returns the cached instances ordered by creation.
func (e *Engine) Instances() []*Instance {
	e.mu.Lock()
	out := make([]*Instance, 0, len(e.cache))
	for _, inst := range e.cache {
		out = append(out, inst)
	}
	e.mu.Unlock()
	slices.SortFunc(out, func(a, b *Instance) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Resolve returns the module for def once its instance is READY, or the
// failure cause (an *InitializationError) once it is in ERROR.
//
// Cancelling ctx stops the wait, not the resolution. When ctx is the context
// a hook of this engine received, the worker resolves def inline; a module
// requested while its own hook is running fails with ErrRecursiveDependency.
func (e *Engine) Resolve(ctx context.Context, def *moddef.Definition) (*Module, error) {
	if def == nil {
		return nil, errors.New("modsys: resolve nil definition")
	}
	if tok, ok := e.tokenFrom(ctx); ok {
		return e.resolveInline(ctx, tok, def)
	}

	start := time.Now()
	inst := e.Instance(def)
	select {
	case <-inst.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.runner.Done():
		select {
		case <-inst.done:
		default:
			return nil, fmt.Errorf("%w: resolving %s", ErrEngineClosed, def.ID())
		}
	}
	e.metrics.resolveDuration.Observe(time.Since(start).Seconds())
	return inst.result()
}

func (e *Engine) resolveInline(ctx context.Context, tok drainToken, def *moddef.Definition) (*Module, error) {
	inst := e.Instance(def)
	if _, busy := e.stack[inst]; busy || inst == tok.current {
		return nil, &InitializationError{
			Module: inst.Name(),
			Kind:   KindCyclicPolicy,
			Detail: "requested while its own policy or initializer is running",
		}
	}
	if !inst.State().IsTerminal() {
		e.stack[tok.current] = struct{}{}
		e.logger.Debug("inline drain", "module", inst.Name(), "trigger", tok.current.Name())
		e.advance(ctx, inst)
		delete(e.stack, tok.current)
	}
	return inst.result()
}

// work is the worker goroutine.
func (e *Engine) work(ctx context.Context) error {
	e.logger.Debug("worker started")
	defer e.logger.Debug("worker stopped")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.runOps()
		e.advance(ctx, nil)
		if e.idle() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
			}
		}
	}
}

// advance steps pending instances until target is terminal, or, with a nil
// target, until nothing can progress. When stuck with nothing left to take
// in, every pending instance not on the drain stack is failed.
func (e *Engine) advance(ctx context.Context, target *Instance) {
	for {
		if target != nil && target.State().IsTerminal() {
			return
		}
		drained := e.drainIntake()
		if e.pass(ctx) || drained || e.intakeLen() > 0 {
			continue
		}
		e.breakCycles()
		return
	}
}

// pass steps every pending instance once and reports whether any progressed.
func (e *Engine) pass(ctx context.Context) bool {
	progress := false
	for _, inst := range slices.Clone(e.pending) {
		if inst.State().IsTerminal() {
			continue
		}
		if _, busy := e.stack[inst]; busy {
			continue
		}
		if e.step(ctx, inst) {
			progress = true
		}
	}
	e.compact()
	return progress
}

func (e *Engine) breakCycles() {
	for _, inst := range slices.Clone(e.pending) {
		if inst.State().IsTerminal() {
			continue
		}
		if _, busy := e.stack[inst]; busy {
			continue
		}
		e.fail(inst, &InitializationError{
			Module: inst.Name(),
			Kind:   KindCyclicPolicy,
			Detail: fmt.Sprintf("no progress possible in state %s", inst.State()),
		})
	}
	e.compact()
}

func (e *Engine) drainIntake() bool {
	e.mu.Lock()
	batch := e.intake
	e.intake = nil
	e.mu.Unlock()
	for _, inst := range batch {
		e.logger.Debug("instance created", "module", inst.Name(), "id", inst.id)
		e.emit(Event{Kind: EventCreated, Instance: inst, State: inst.State()})
	}
	e.pending = append(e.pending, batch...)
	return len(batch) > 0
}

func (e *Engine) compact() {
	e.pending = slices.DeleteFunc(e.pending, func(inst *Instance) bool { return inst.State().IsTerminal() })
	e.metrics.pending.Set(float64(len(e.pending)))
}

func (e *Engine) runOps() {
	e.mu.Lock()
	ops := e.ops
	e.ops = nil
	e.mu.Unlock()
	for _, op := range ops {
		op()
	}
}

// submit queues op to run on the worker between fixed points.
func (e *Engine) submit(op func()) {
	e.mu.Lock()
	e.ops = append(e.ops, op)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) intakeLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.intake)
}

func (e *Engine) idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.intake) == 0 && len(e.ops) == 0
}

func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) evict(inst *Instance) {
	e.mu.Lock()
	if e.cache[inst.def] == inst {
		delete(e.cache, inst.def)
	}
	e.mu.Unlock()
}

func (e *Engine) transitioned(inst *Instance, s State) {
	e.metrics.transitions.WithLabelValues(s.String()).Inc()
	e.logger.Debug("transition", "module", inst.Name(), "state", s)
	e.emit(Event{Kind: EventTransition, Instance: inst, State: s})
}

func (e *Engine) emit(ev Event) {
	if e.observer != nil {
		e.observer(ev)
	}
}

// hookContext returns the context hooks of inst run with. The drain
// capability it carries ends when end is called.
func (e *Engine) hookContext(ctx context.Context, inst *Instance) (hookCtx context.Context, end func()) {
	active := &atomic.Bool{}
	active.Store(true)
	tok := drainToken{engine: e, current: inst, active: active}
	return context.WithValue(ctx, drainKey{}, tok), func() { active.Store(false) }
}

// tokenFrom returns the live drain capability of this engine carried by ctx.
func (e *Engine) tokenFrom(ctx context.Context) (drainToken, bool) {
	tok, ok := ctx.Value(drainKey{}).(drainToken)
	if !ok || tok.engine != e || !tok.active.Load() {
		return drainToken{}, false
	}
	return tok, true
}
