package backend

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"trading-indicators/internal/indicator"

	"golang.org/x/time/rate"
)

// Selector builds indicators according to their backend preference.
// It is safe for concurrent use.
type Selector struct {
	reg    *Registry
	policy Policy
	caps   Capabilities
	log    *slog.Logger

	limiter   *rate.Limiter
	fallbacks atomic.Int64

	// MemoryPressure is sampled once per automatic construction.
	MemoryPressure func() float64
	// OnSelect, when set, is called after every successful Build.
	OnSelect func(p indicator.Params, kind indicator.Preference, fellBack bool)
}

func NewSelector(reg *Registry, policy Policy, caps Capabilities, logger *slog.Logger) *Selector {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		reg:            reg,
		policy:         policy,
		caps:           caps,
		log:            logger.With(slog.String("component", "backend")),
		limiter:        rate.NewLimiter(rate.Every(10*time.Second), 3),
		MemoryPressure: MemoryPressure,
	}
}

// Build constructs the indicator described by p and reports which backend
// answered. Explicit preferences never fall back; Automatic falls back to
// the self-contained engine when the chosen external construction fails.
func (s *Selector) Build(p indicator.Params) (indicator.Indicator, indicator.Preference, error) {
	entry, ok := s.reg.Lookup(p.Type)
	if !ok {
		return nil, 0, fmt.Errorf("%w: indicator %q", indicator.ErrUnsupportedType, p.Type)
	}

	switch p.Backend {
	case indicator.SelfContained:
		return s.done(p, entry.SelfContained, indicator.SelfContained, false)
	case indicator.External:
		if err := s.externalAvailable(p, entry); err != nil {
			return nil, 0, err
		}
		return s.done(p, entry.External, indicator.External, false)
	}

	ctx := Context{ExternalLoaded: s.caps.External && entry.External != nil}
	if s.MemoryPressure != nil {
		ctx.MemoryPressure = s.MemoryPressure()
	}
	if s.policy.Choose(p, ctx) == indicator.External {
		ind, err := entry.External(p)
		if err == nil {
			s.notify(p, indicator.External, false)
			return ind, indicator.External, nil
		}
		s.fallbacks.Add(1)
		if s.limiter.Allow() {
			s.log.Warn("external backend failed, using self-contained",
				slog.String("indicator", p.Key()),
				slog.String("error", err.Error()),
				slog.Int64("fallbacks", s.fallbacks.Load()))
		}
		return s.done(p, entry.SelfContained, indicator.SelfContained, true)
	}
	return s.done(p, entry.SelfContained, indicator.SelfContained, false)
}

// Check reports whether Build(p) can succeed: p must describe a valid
// indicator, and an explicit external request needs the external engine
// enabled and able to construct p. Nothing is counted or logged.
func (s *Selector) Check(p indicator.Params) error {
	entry, ok := s.reg.Lookup(p.Type)
	if !ok {
		return fmt.Errorf("%w: indicator %q", indicator.ErrUnsupportedType, p.Type)
	}
	if _, err := entry.SelfContained(p); err != nil {
		return err
	}
	if p.Backend != indicator.External {
		return nil
	}
	if err := s.externalAvailable(p, entry); err != nil {
		return err
	}
	_, err := entry.External(p)
	return err
}

func (s *Selector) externalAvailable(p indicator.Params, e Entry) error {
	if !s.caps.External {
		return fmt.Errorf("%w: external engine disabled (%s)", indicator.ErrBackendUnavailable, p.Key())
	}
	if e.External == nil {
		return fmt.Errorf("%w: no external implementation of %s", indicator.ErrBackendUnavailable, upper(p.Type))
	}
	return nil
}

func (s *Selector) done(p indicator.Params, ctor indicator.Constructor, kind indicator.Preference, fellBack bool) (indicator.Indicator, indicator.Preference, error) {
	ind, err := ctor(p)
	if err != nil {
		return nil, 0, err
	}
	s.notify(p, kind, fellBack)
	return ind, kind, nil
}

func (s *Selector) notify(p indicator.Params, kind indicator.Preference, fellBack bool) {
	if s.OnSelect != nil {
		s.OnSelect(p, kind, fellBack)
	}
}

// Fallbacks is the number of automatic requests that fell back so far.
func (s *Selector) Fallbacks() int64 { return s.fallbacks.Load() }

func (s *Selector) Registry() *Registry { return s.reg }

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
