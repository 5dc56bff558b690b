package generation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

// Store 是 Reconciler 依赖的最小存储面，cache.Storage 直接满足。
type Store interface {
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// Report 记录一次清理的结果。
type Report struct {
	Deleted []string
	Kept    []string
	Skipped []string
}

// Reconciler 删除本进程 family 下所有非 current 的 generation。
type Reconciler struct {
	store  Store
	logger *logrus.Logger
}

// NewReconciler 构造 Reconciler。
func NewReconciler(store Store, logger *logrus.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Reconcile 枚举可见 generation，删除属于 current 所在 family 但不是 current 的那些。
// 其他 family 与无法解析的名称保持不变。删除并发执行，全部结束后返回，单个失败被聚合。
func (r *Reconciler) Reconcile(ctx context.Context, current []Generation) (Report, error) {
	set, err := NewSet(current...)
	if err != nil {
		return Report{}, err
	}

	visible, err := r.store.Names(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list generations: %w", err)
	}

	var (
		report  Report
		targets []string
	)
	for _, name := range visible {
		g, err := Parse(name)
		switch {
		case err != nil || !set.Owns(g.Family):
			report.Skipped = append(report.Skipped, name)
		case set.IsCurrentName(name):
			report.Kept = append(report.Kept, name)
		default:
			targets = append(targets, name)
		}
	}

	var (
		mu   sync.Mutex
		errs error
		wg   conc.WaitGroup
	)
	for _, name := range targets {
		wg.Go(func() {
			deleted, err := r.store.Delete(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("delete generation %s: %w", name, err))
				return
			}
			if deleted {
				report.Deleted = append(report.Deleted, name)
			}
		})
	}
	wg.Wait()

	sort.Strings(report.Deleted)
	sort.Strings(report.Kept)
	sort.Strings(report.Skipped)

	fields := logrus.Fields{
		"action":  "reconcile",
		"current": set.Names(),
		"deleted": report.Deleted,
		"kept":    report.Kept,
	}
	if errs != nil {
		r.logger.WithFields(fields).WithError(errs).Warn("reconcile_partial")
		return report, errs
	}
	r.logger.WithFields(fields).Info("reconcile_complete")
	return report, nil
}
