package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/offline-hub/internal/generation"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/precache"
)

// State 是 worker 生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

// ErrInvalidState 表示在错误的生命周期阶段调用了 Install/Activate。
var ErrInvalidState = errors.New("invalid lifecycle state")

// Precacher 由 *precache.Manager 实现。
type Precacher interface {
	Precache(ctx context.Context, gen generation.Generation, ids []string, opts precache.Options) error
	Preload(ctx context.Context, gen generation.Generation, ids []string, opts precache.Options)
}

// Reconciler 由 *generation.Reconciler 实现。
type Reconciler interface {
	Reconcile(ctx context.Context, current []generation.Generation) (generation.Report, error)
}

// Worker 串联 install → activate 两个阶段，并持有客户端作用域。
type Worker struct {
	mu         sync.Mutex
	state      State
	batches    []Batch
	precacher  Precacher
	reconciler Reconciler
	caps       precache.Capabilities
	scope      *ClientScope
	logger     *logrus.Logger
	now        func() time.Time
	preloads   sync.WaitGroup
}

// New 构造处于 parsed 状态的 Worker。
func New(batches []Batch, precacher Precacher, reconciler Reconciler, caps precache.Capabilities, logger *logrus.Logger) *Worker {
	return &Worker{
		state:      StateParsed,
		batches:    batches,
		precacher:  precacher,
		reconciler: reconciler,
		caps:       caps,
		scope:      NewClientScope(),
		logger:     logger,
		now:        time.Now,
	}
}

// State 返回当前状态。
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Scope 返回客户端作用域。
func (w *Worker) Scope() *ClientScope {
	return w.scope
}

// Current 返回本 worker 负责的当前 generation。
func (w *Worker) Current() []generation.Generation {
	return Generations(w.batches)
}

func (w *Worker) transition(from []State, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range from {
		if w.state == s {
			w.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, w.state, to)
}

func (w *Worker) set(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Install 在后台启动所有预加载批次，并发执行必需批次并等待全部结束。
// 任一必需批次失败时 worker 进入 redundant，可再次调用 Install 重试。
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition([]State{StateParsed, StateRedundant}, StateInstalling); err != nil {
		return err
	}
	w.logger.WithFields(logging.LifecycleFields("install", string(StateInstalling))).Info("lifecycle_install_start")

	// 预加载批次不参与 install 结果，也不随调用方的 ctx 取消。
	bg := context.WithoutCancel(ctx)
	for _, b := range w.batches {
		if b.Essential {
			continue
		}
		w.preloads.Add(1)
		go func() {
			defer w.preloads.Done()
			w.precacher.Preload(bg, b.Generation, b.Resources, b.Options)
		}()
	}

	p := pool.New().WithErrors()
	for _, b := range w.batches {
		if !b.Essential {
			continue
		}
		p.Go(func() error {
			return w.precacher.Precache(ctx, b.Generation, b.Resources, b.Options)
		})
	}
	if err := p.Wait(); err != nil {
		w.set(StateRedundant)
		w.logger.WithFields(logging.LifecycleFields("install", string(StateRedundant))).WithError(err).Error("lifecycle_install_failed")
		return fmt.Errorf("install: %w", err)
	}

	w.set(StateInstalled)
	w.logger.WithFields(logging.LifecycleFields("install", string(StateInstalled))).Info("lifecycle_install_complete")
	return nil
}

// Activate 清理旧 generation，在支持时接管已有客户端，然后进入 active。
// 清理失败只记录日志，不阻止激活。
func (w *Worker) Activate(ctx context.Context) (generation.Report, error) {
	if err := w.transition([]State{StateInstalled}, StateActivating); err != nil {
		return generation.Report{}, err
	}
	w.logger.WithFields(logging.LifecycleFields("activate", string(StateActivating))).Info("lifecycle_activate_start")

	report, err := w.reconciler.Reconcile(ctx, w.Current())
	if err != nil {
		w.logger.WithFields(logging.LifecycleFields("activate", string(StateActivating))).WithError(err).Warn("lifecycle_reconcile_failed")
	}

	w.scope.activate(w.now())
	if w.caps.ClaimClients {
		w.scope.Claim()
	}
	w.set(StateActive)

	fields := logging.LifecycleFields("activate", string(StateActive))
	fields["claimed"] = w.scope.Claimed()
	fields["deleted"] = report.Deleted
	w.logger.WithFields(fields).Info("lifecycle_activate_complete")
	return report, nil
}

// WaitPreloads 等待后台预加载批次结束，ctx 取消时提前返回。
func (w *Worker) WaitPreloads(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.preloads.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
