package provider

import (
	"context"
	"fmt"

	"farmassist-backend/internal/shared/metrics"
	"farmassist-backend/internal/shared/telemetry"
)

// Selector owns the configured adapters and implements fallback
// orchestration: try each adapter in preference order until one returns a
// usable result. It holds no mutable state and is safe for concurrent use.
type Selector struct {
	adapters map[string]Adapter
	order    []string
}

// NewSelector builds a Selector over the given adapters. Attempt order
// follows the order adapters are passed in.
func NewSelector(adapters ...Adapter) *Selector {
	s := &Selector{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		name := a.Name()
		if _, dup := s.adapters[name]; dup {
			continue
		}
		s.adapters[name] = a
		s.order = append(s.order, name)
	}
	return s
}

// Order returns the attempt order with preferred moved to the front when it
// names a configured adapter. Unknown preferences fall back to the default
// order.
func (s *Selector) Order(preferred string) []string {
	if _, ok := s.adapters[preferred]; !ok {
		out := make([]string, len(s.order))
		copy(out, s.order)
		return out
	}
	out := make([]string, 0, len(s.order))
	out = append(out, preferred)
	for _, name := range s.order {
		if name != preferred {
			out = append(out, name)
		}
	}
	return out
}

// Analyze tries each adapter in order until one produces a usable result.
// An attempt counts as failed when the adapter raises, or when it returns
// the fallback sentinel: a syntactically successful call with no real
// detection is a provider failure and the next provider is tried. When every
// provider fails an AllFailedError carrying the last cause is returned.
//
// Analyze mutates nothing: from the caller's point of view it is a pure
// function of its inputs.
func (s *Selector) Analyze(ctx context.Context, imageURL, cropType string, loc Location, preferred string) (DetectionResult, error) {
	order := s.Order(preferred)
	if len(order) == 0 {
		return DetectionResult{}, &AllFailedError{Last: fmt.Errorf("no providers configured")}
	}

	var lastErr error
	for i, name := range order {
		if i == 1 {
			metrics.IncProviderFallback()
		}
		adapter := s.adapters[name]
		telemetry.Info("provider.attempt", map[string]any{"provider": name})

		res, err := adapter.Analyze(ctx, imageURL, cropType, loc)
		if err != nil {
			telemetry.Warn("provider.failed", map[string]any{
				"provider": name,
				"error":    err.Error(),
			})
			lastErr = err
			continue
		}
		if res.Failed() {
			lastErr = fmt.Errorf("provider %s returned fallback result: %s", name, res.Error)
			telemetry.Warn("provider.fallback_result", map[string]any{
				"provider": name,
				"error":    res.Error,
			})
			continue
		}

		res.Provider = name
		telemetry.Info("provider.success", map[string]any{
			"provider":   name,
			"disease":    res.Disease,
			"confidence": res.Confidence,
		})
		return res, nil
	}

	return DetectionResult{}, &AllFailedError{Attempted: order, Last: lastErr}
}
