/*
Mail Transfer Agent core - embeddable SMTP submission, spool and relay engine.
Copyright © 2024 Mail Transfer Agent core contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package plugin dispatches session events to externally loaded
// plugins through a small, stable C ABI. The dispatch ordering and
// abort-on-reject logic in this file is pure Go and independent of how
// a Module was actually loaded, so it is unit-testable without a
// compiled shared object; abi.go supplies the cgo dlopen/dlsym
// mechanics that produce real Modules from a path on disk.
package plugin

import "github.com/mtacore/mtacore/internal/message"

// HookPoint identifies a point in the session lifecycle at which
// Validation modules may be consulted. Named after the SMTP states
// they follow, per SPEC_FULL.md §6.3/§6.2.
type HookPoint int

const (
	HookConnect HookPoint = iota
	HookStartTLS
	HookMailFrom
	HookRcptTo
	HookData
)

func (h HookPoint) String() string {
	switch h {
	case HookConnect:
		return "connect"
	case HookStartTLS:
		return "starttls"
	case HookMailFrom:
		return "mailfrom"
	case HookRcptTo:
		return "rcptto"
	case HookData:
		return "data"
	default:
		return "unknown"
	}
}

// LifecycleEvent identifies a whole-connection event delivered to
// Event-capability modules. Unlike Validation hooks these are not
// vetoable: their return value is discarded.
type LifecycleEvent int

const (
	EventConnectionOpened LifecycleEvent = iota
	EventConnectionClosed
)

// Validator is the capability a module advertises to participate in
// the accept/reject decision at one or more HookPoints. Returning a
// non-zero verdict aborts dispatch to any remaining module for that
// hook and becomes the session's rejection; the Context carries the
// response override a module may have set via SetReply.
type Validator interface {
	Validate(hook HookPoint, ctx *message.Context) (verdict int)
}

// EventHandler is the capability a module advertises to observe
// lifecycle events it cannot veto.
type EventHandler interface {
	HandleEvent(event LifecycleEvent, ctx *message.Context)
}

// Module is one loaded plugin. Name is used only for logging; a
// Module need not implement both Validator and EventHandler — the
// Registry type-asserts for each capability independently, mirroring
// the ABI's per-capability function-pointer table where an unset
// pointer means "not implemented".
type Module interface {
	Name() string
}

// Registry holds the ordered list of loaded modules and performs
// synchronous, sequential, registration-order dispatch across them.
type Registry struct {
	modules []Module
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends m to the dispatch order. Modules are consulted in
// the order they were registered, matching the teacher's module
// pipeline convention of configuration-order execution.
func (r *Registry) Register(m Module) {
	r.modules = append(r.modules, m)
}

// Len reports the number of registered modules.
func (r *Registry) Len() int {
	return len(r.modules)
}

// Dispatch runs every registered Validator for hook against ctx, in
// registration order, stopping at the first non-zero verdict. It
// returns (true, 0) if every module accepted, or (false, verdict)
// for the aborting module's non-zero return. Modules without
// Validator capability are skipped, matching the ABI's "unset function
// pointer means not implemented" rule.
func (r *Registry) Dispatch(hook HookPoint, ctx *message.Context) (accepted bool, verdict int) {
	for _, m := range r.modules {
		v, ok := m.(Validator)
		if !ok {
			continue
		}
		if rc := v.Validate(hook, ctx); rc != 0 {
			return false, rc
		}
	}
	return true, 0
}

// Broadcast delivers event to every registered EventHandler, in
// registration order. Unlike Dispatch, no return value can abort
// delivery to later modules — lifecycle events are not vetoable.
func (r *Registry) Broadcast(event LifecycleEvent, ctx *message.Context) {
	for _, m := range r.modules {
		if h, ok := m.(EventHandler); ok {
			h.HandleEvent(event, ctx)
		}
	}
}


