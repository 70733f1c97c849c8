// Package params implements the reactive parameter resolver of spec.md
// §4.2: binding static and reactive parameter sources into the current
// parameter map, and propagating changes from reactive cells into the
// fetch coordinator's onParamChange path.
//
// The explicit slice-of-unsubscribe-closures shape below follows the
// spec's own Design Notes (§9): "Implementations in strongly-typed targets
// should model this with an explicit subscription registry ... rather than
// implicit closure capture, to make teardown in reset() trivial and
// leak-free." The pumped-fn-pumped-go example repo models an analogous
// reactive dependency graph (ReactiveGraph.AddDependency /
// RemoveDependency) with the same explicit-registry idiom, which this
// mirrors without importing that package (it ships no reusable library
// surface for this, only an application-shaped graph type).
package params

import "reflect"

// AttachValue is a reactive cell: a current value plus a subscribe
// function invoked on every change. It corresponds to the spec's
// AttachValue[T], implemented here over `any` because a parameter map
// mixes differently-typed reactive cells.
type AttachValue interface {
	Value() any
	Subscribe(listener func(any)) (unsubscribe func())
}

// Source is one parameter's configuration: either a static value, or a
// function invoked exactly once at construction to obtain an AttachValue.
type Source struct {
	isReactive bool
	static     any
	resolve    func() AttachValue
}

// Static returns a parameter Source with a fixed value.
func Static(v any) Source {
	return Source{static: v}
}

// Reactive returns a parameter Source backed by a reactive cell, obtained
// by calling resolve exactly once during Resolver construction.
func Reactive(resolve func() AttachValue) Source {
	return Source{isReactive: true, resolve: resolve}
}

// EnabledSource mirrors Source for the `enabled` configuration option,
// which is either a static bool or a reactive cell (spec.md §4.2). The
// zero value means "unset" rather than "disabled": spec.md §4.2's
// `enabled` field defaults to true, so a Resolver built with an unset
// EnabledSource treats the store as enabled from construction.
type EnabledSource struct {
	isReactive bool
	isSet      bool
	static     bool
	resolve    func() AttachValue
}

// StaticEnabled returns a fixed enabled value.
func StaticEnabled(v bool) EnabledSource {
	return EnabledSource{isSet: true, static: v}
}

// ReactiveEnabled returns a reactive enabled cell.
func ReactiveEnabled(resolve func() AttachValue) EnabledSource {
	return EnabledSource{isReactive: true, isSet: true, resolve: resolve}
}

// Resolver binds a set of named parameter Sources into a live parameter
// map, invoking onParamChange whenever a reactive cell's value changes
// (ignoring deep-equal no-op notifications).
type Resolver struct {
	sources map[string]Source
	current map[string]any

	enabledSource EnabledSource
	onEnabledChange func(bool)

	onParamChange func(next map[string]any)

	unsubscribes []func()

	initialEnabled bool
}

// NewResolver binds sources immediately: every reactive source is invoked
// once to obtain its AttachValue, the initial parameter map is resolved,
// and a change subscription is installed on every reactive cell.
func NewResolver(sources map[string]Source, enabled EnabledSource, onParamChange func(map[string]any), onEnabledChange func(bool)) *Resolver {
	r := &Resolver{
		sources:         sources,
		current:         make(map[string]any, len(sources)),
		enabledSource:   enabled,
		onEnabledChange: onEnabledChange,
		onParamChange:   onParamChange,
	}
	r.bind()
	return r
}

func (r *Resolver) bind() {
	for name, src := range r.sources {
		if !src.isReactive {
			r.current[name] = src.static
			continue
		}
		av := src.resolve()
		r.current[name] = av.Value()

		name := name // capture
		prev := av.Value()
		unsub := av.Subscribe(func(next any) {
			if reflect.DeepEqual(next, prev) {
				return
			}
			prev = next
			updated := make(map[string]any, len(r.current))
			for k, v := range r.current {
				updated[k] = v
			}
			updated[name] = next
			r.current = updated
			if r.onParamChange != nil {
				r.onParamChange(updated)
			}
		})
		r.unsubscribes = append(r.unsubscribes, unsub)
	}

	if r.enabledSource.isReactive {
		av := r.enabledSource.resolve()
		prev := av.Value()
		if b, ok := prev.(bool); ok {
			r.initialEnabled = b
		}
		unsub := av.Subscribe(func(next any) {
			if reflect.DeepEqual(next, prev) {
				return
			}
			prev = next
			if b, ok := next.(bool); ok && r.onEnabledChange != nil {
				r.onEnabledChange(b)
			}
		})
		r.unsubscribes = append(r.unsubscribes, unsub)
	} else if r.enabledSource.isSet {
		r.initialEnabled = r.enabledSource.static
	} else {
		r.initialEnabled = true
	}
}

// Current returns the currently resolved parameter map.
func (r *Resolver) Current() map[string]any {
	out := make(map[string]any, len(r.current))
	for k, v := range r.current {
		out[k] = v
	}
	return out
}

// InitialEnabled resolves the enabled configuration's starting value.
func (r *Resolver) InitialEnabled() bool {
	return r.initialEnabled
}

// Close unsubscribes from every reactive cell. Safe to call once; the
// explicit slice of unsubscribe closures (rather than relying on garbage
// collection of captured closures) is what makes this a single
// leak-free loop, per spec.md §9.
func (r *Resolver) Close() {
	for _, unsub := range r.unsubscribes {
		unsub()
	}
	r.unsubscribes = nil
}
