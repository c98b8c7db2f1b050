// Package embedding wraps the external models that turn an image into a
// fixed-length vector. The models themselves are opaque: an Embedder either
// returns a vector or fails with errs.ErrEncodingFailure.
package embedding

import (
	"context"
	"errors"
	"sync"
	"time"

	"assetgate/errs"
	"assetgate/similarity"

	"github.com/m-mizutani/goerr/v2"
)

type Result struct {
	Vector     []float32
	Confidence float64 // 0..1
}

type Embedder interface {
	Embed(ctx context.Context, image []byte, model string) (Result, error)
}

// EmbedderFunc adapts a function to Embedder
type EmbedderFunc func(ctx context.Context, image []byte, model string) (Result, error)

func (f EmbedderFunc) Embed(ctx context.Context, image []byte, model string) (Result, error) {
	return f(ctx, image, model)
}

// Registry dispatches to the backend registered for the model name.
type Registry struct {
	mutex    sync.RWMutex
	backends map[string]Embedder
}

func NewRegistry() *Registry {
	return &Registry{backends: map[string]Embedder{}}
}

func (r *Registry) Register(model string, e Embedder) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.backends[model] = e
}

func (r *Registry) Models() (result []string) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for m := range r.backends {
		result = append(result, m)
	}
	return
}

func (r *Registry) Embed(ctx context.Context, image []byte, model string) (Result, error) {
	r.mutex.RLock()
	e, ok := r.backends[model]
	r.mutex.RUnlock()
	if !ok {
		return Result{}, goerr.Wrap(errs.ErrEncodingFailure, "no backend for model", goerr.V("model", model))
	}
	return e.Embed(ctx, image, model)
}

type bounded struct {
	next    Embedder
	timeout time.Duration
}

// WithTimeout bounds every call to next. A timeout, any backend error and a
// null vector all come back as errs.ErrEncodingFailure; cancellation of the
// caller's context is returned as is.
func WithTimeout(next Embedder, timeout time.Duration) Embedder {
	return &bounded{next: next, timeout: timeout}
}

func (b *bounded) Embed(ctx context.Context, image []byte, model string) (Result, error) {
	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	type answer struct {
		res Result
		err error
	}
	done := make(chan answer, 1)
	go func() {
		res, err := b.next.Embed(callCtx, image, model)
		done <- answer{res, err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, goerr.Wrap(errs.ErrEncodingFailure, "embedding timed out",
			goerr.V("model", model), goerr.V("timeout", b.timeout.String()))
	case a := <-done:
		if a.err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			if errors.Is(a.err, errs.ErrEncodingFailure) {
				return Result{}, a.err
			}
			return Result{}, goerr.Wrap(errs.ErrEncodingFailure, a.err.Error(), goerr.V("model", model))
		}
		if similarity.IsNull(a.res.Vector) {
			return Result{}, goerr.Wrap(errs.ErrEncodingFailure, "backend returned a null vector", goerr.V("model", model))
		}
		if a.res.Confidence < 0 {
			a.res.Confidence = 0
		} else if a.res.Confidence > 1 {
			a.res.Confidence = 1
		}
		return a.res, nil
	}
}
