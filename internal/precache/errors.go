package precache

import (
	"fmt"
	"strings"
)

// ResourceError 记录单个资源预缓存失败的原因：HTTP 错误状态或网络层失败。
type ResourceError struct {
	Resource string
	Status   int
	Err      error
}

func (e *ResourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("request for %s failed with status %d", e.Resource, e.Status)
	}
	return fmt.Sprintf("not caching %s: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// BatchError 汇总一个批次内全部失败的资源，成功的资源依然已写入缓存。
type BatchError struct {
	Generation string
	Total      int
	Failures   []*ResourceError
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("precache %s: %d/%d resources failed: %s",
		e.Generation, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// Failed 返回失败资源的原始标识。
func (e *BatchError) Failed() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Resource
	}
	return out
}
