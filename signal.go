package queryflux

import "github.com/colinmarsh/queryflux/internal/params"

// AttachValue is a reactive cell: a current value plus a subscribe
// function invoked on every change. Supply one via ReactiveParam or
// ReactiveEnabled to let a Store re-run when the cell changes.
type AttachValue = params.AttachValue

// ParamSource configures one named parameter: a fixed value (Param) or a
// reactive cell (ReactiveParam).
type ParamSource = params.Source

// EnabledSource configures the enabled option: a fixed bool (Enabled) or
// a reactive cell (ReactiveEnabled).
type EnabledSource = params.EnabledSource

// Param returns a fixed parameter value.
func Param(v any) ParamSource { return params.Static(v) }

// ReactiveParam returns a parameter bound to a reactive cell, resolved
// once when the Store is constructed.
func ReactiveParam(resolve func() AttachValue) ParamSource { return params.Reactive(resolve) }

// Enabled returns a fixed enabled value.
func Enabled(v bool) EnabledSource { return params.StaticEnabled(v) }

// ReactiveEnabled returns an enabled flag bound to a reactive cell.
func ReactiveEnabled(resolve func() AttachValue) EnabledSource { return params.ReactiveEnabled(resolve) }
