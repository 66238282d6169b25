package llm

import (
	"context"
	"strings"
	"sync"
)

// Middleware represents a function that wraps a Provider with additional behavior.
// Middleware functions are composed using Chain() to create a processing pipeline.
type Middleware func(next Provider) Provider

// GenerateFunc is the signature of Provider.Generate.
type GenerateFunc func(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)

// wrapped overrides Generate and delegates everything else.
type wrapped struct {
	Provider
	generate GenerateFunc
}

func (w wrapped) Generate(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	return w.generate(ctx, req)
}

// WrapGenerate returns next with its Generate replaced by generate.
func WrapGenerate(next Provider, generate GenerateFunc) Provider {
	return wrapped{Provider: next, generate: generate}
}

// Chain composes multiple middlewares around a base Provider.
// Middlewares are applied in order, with earlier middlewares being outermost.
//
// For example: Chain(p, mw1, mw2, mw3) creates the call stack:
//
//	mw1 -> mw2 -> mw3 -> p
func Chain(base Provider, middlewares ...Middleware) Provider {
	p := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		p = middlewares[i](p)
	}
	return p
}

// Observe relays stream unchanged and calls done exactly once with the
// stream's terminal error (nil on clean completion, ctx.Err() if ctx ends first)
// and the text that reached the consumer.
func Observe(ctx context.Context, stream <-chan StreamChunk, done func(err error, text string)) <-chan StreamChunk {
	out := make(chan StreamChunk)
	var once sync.Once
	var sb strings.Builder
	finish := func(err error) {
		once.Do(func() { done(err, sb.String()) })
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				finish(ctx.Err())
				return
			case chunk, ok := <-stream:
				if !ok {
					finish(nil)
					return
				}
				if !Send(ctx, out, chunk) {
					finish(ctx.Err())
					return
				}
				sb.WriteString(chunk.Content)
				if chunk.Error != nil {
					finish(chunk.Error)
					return
				}
				if chunk.Done {
					finish(nil)
					return
				}
			}
		}
	}()
	return out
}
