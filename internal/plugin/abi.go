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

//go:build cgo

package plugin

/*
#cgo LDFLAGS: -ldl
#cgo CFLAGS: -I${SRCDIR}/include -Wall

#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>
#include "mta_plugin.h"

static int32_t call_init(mta_plugin_init_fn fn, const mta_host_api_t *api, const char *args, mta_plugin_table_t *out) {
	return fn(api, args, out);
}

static int32_t call_validate(mta_validate_fn fn, mta_ctx_t ctx, int32_t hook) {
	return fn(ctx, hook);
}

static void call_event(mta_event_fn fn, mta_ctx_t ctx, int32_t event) {
	fn(ctx, event);
}

// Defined in abi_host.c, which includes the cgo-generated export header
// so it can take addresses of the mta_host_* Go functions below.
mta_host_api_t build_host_api(void);
*/
import "C"

import (
	"fmt"
	"runtime/cgo"
	"unsafe"

	"github.com/mtacore/mtacore/internal/message"
)

// soModule is a Module backed by a dlopen'd shared object. Whichever
// of validate/handleEvent is nil simply means that capability is
// unimplemented by the plugin, per the header's NULL-means-absent rule;
// soModule still satisfies both Validator and EventHandler so the
// Registry's type assertions succeed, falling through to a 0 verdict
// / no-op when the underlying pointer is nil.
type soModule struct {
	path   string
	name   string
	handle unsafe.Pointer
	table  C.mta_plugin_table_t
}

// Load dlopen's the shared object at path, resolves its mta_plugin_init
// entry point, and calls it with the host accessor table and args. The
// returned Module's Validate/HandleEvent methods dispatch into the
// plugin's advertised function pointers.
func Load(path string, args string) (Module, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.dlopen(cPath, C.RTLD_NOW|C.RTLD_LOCAL)
	if handle == nil {
		return nil, fmt.Errorf("plugin: dlopen %s: %s", path, C.GoString(C.dlerror()))
	}

	symName := C.CString("mta_plugin_init")
	defer C.free(unsafe.Pointer(symName))
	sym := C.dlsym(handle, symName)
	if sym == nil {
		C.dlclose(handle)
		return nil, fmt.Errorf("plugin: %s: missing mta_plugin_init symbol: %s", path, C.GoString(C.dlerror()))
	}

	cArgs := C.CString(args)
	defer C.free(unsafe.Pointer(cArgs))

	api := C.build_host_api()
	var table C.mta_plugin_table_t
	rc := C.call_init(C.mta_plugin_init_fn(sym), &api, cArgs, &table)
	if rc != 0 {
		C.dlclose(handle)
		return nil, fmt.Errorf("plugin: %s: mta_plugin_init returned %d", path, int(rc))
	}

	return &soModule{path: path, name: path, handle: handle, table: table}, nil
}

func (m *soModule) Name() string { return m.name }

// Close unloads the shared object. Callers must ensure no dispatch is
// in flight against this module when Close is invoked.
func (m *soModule) Close() error {
	if m.handle == nil {
		return nil
	}
	if C.dlclose(m.handle) != 0 {
		return fmt.Errorf("plugin: dlclose %s: %s", m.path, C.GoString(C.dlerror()))
	}
	m.handle = nil
	return nil
}

// Validate satisfies plugin.Validator by calling through to the
// plugin's registered validate function pointer, if any.
func (m *soModule) Validate(hook HookPoint, ctx *message.Context) int {
	if m.table.validate == nil {
		return 0
	}
	h := cgo.NewHandle(ctx)
	defer h.Delete()
	rc := C.call_validate(m.table.validate, C.mta_ctx_t(unsafe.Pointer(uintptr(h))), C.int32_t(hook))
	return int(rc)
}

// HandleEvent satisfies plugin.EventHandler by calling through to the
// plugin's registered event function pointer, if any.
func (m *soModule) HandleEvent(event LifecycleEvent, ctx *message.Context) {
	if m.table.handle_event == nil {
		return
	}
	h := cgo.NewHandle(ctx)
	defer h.Delete()
	C.call_event(m.table.handle_event, C.mta_ctx_t(unsafe.Pointer(uintptr(h))), C.int32_t(event))
}

func ctxFromHandle(ctx C.mta_ctx_t) *message.Context {
	h := cgo.Handle(uintptr(ctx))
	return h.Value().(*message.Context)
}

func newCString(s string) C.mta_string_t {
	if len(s) == 0 {
		return C.mta_string_t{len: 0, bytes: nil}
	}
	buf := C.malloc(C.size_t(len(s)))
	cBytes := unsafe.Slice((*byte)(buf), len(s))
	copy(cBytes, s)
	return C.mta_string_t{len: C.size_t(len(s)), bytes: (*C.char)(buf)}
}

func goString(s C.mta_string_t) string {
	if s.len == 0 || s.bytes == nil {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(s.bytes)), int(s.len)))
}

//export mta_host_get_id
func mta_host_get_id(ctx C.mta_ctx_t) C.mta_string_t {
	c := ctxFromHandle(ctx)
	if c.Msg == nil {
		return newCString("")
	}
	return newCString(string(c.Msg.ID))
}

//export mta_host_get_sender
func mta_host_get_sender(ctx C.mta_ctx_t) C.mta_string_t {
	c := ctxFromHandle(ctx)
	if c.Msg == nil {
		return newCString("")
	}
	return newCString(c.Msg.Envelope.MailFrom)
}

//export mta_host_get_recipients
func mta_host_get_recipients(ctx C.mta_ctx_t) C.mta_string_vector_t {
	c := ctxFromHandle(ctx)
	var rcpt []string
	if c.Msg != nil {
		rcpt = c.Msg.Envelope.RcptTo
	}
	if len(rcpt) == 0 {
		return C.mta_string_vector_t{count: 0, items: nil}
	}
	items := C.malloc(C.size_t(len(rcpt)) * C.size_t(unsafe.Sizeof(C.mta_string_t{})))
	slice := unsafe.Slice((*C.mta_string_t)(items), len(rcpt))
	for i, r := range rcpt {
		slice[i] = newCString(r)
	}
	return C.mta_string_vector_t{count: C.size_t(len(rcpt)), items: (*C.mta_string_t)(items)}
}

//export mta_host_get_data
func mta_host_get_data(ctx C.mta_ctx_t) C.mta_string_t {
	c := ctxFromHandle(ctx)
	if c.Msg == nil || c.Msg.Body == nil {
		return newCString("")
	}
	r, err := c.Msg.Body.Open()
	if err != nil {
		return newCString("")
	}
	defer r.Close()
	buf := make([]byte, c.Msg.Body.Len())
	n, _ := r.Read(buf)
	return newCString(string(buf[:n]))
}

//export mta_host_get_tls_active
func mta_host_get_tls_active(ctx C.mta_ctx_t) C.int32_t {
	c := ctxFromHandle(ctx)
	if c.Msg != nil && c.Msg.Reception.TLSVersion != 0 {
		return 1
	}
	return 0
}

//export mta_host_get_tls_params
func mta_host_get_tls_params(ctx C.mta_ctx_t) C.mta_string_t {
	c := ctxFromHandle(ctx)
	if c.Msg == nil {
		return newCString("")
	}
	return newCString(fmt.Sprintf("%d/%d/%s", c.Msg.Reception.TLSVersion, c.Msg.Reception.TLSCipher, c.Msg.Reception.TLSServerName))
}

//export mta_host_get_metadata
func mta_host_get_metadata(ctx C.mta_ctx_t, key *C.char) C.mta_string_t {
	c := ctxFromHandle(ctx)
	k := C.GoString(key)
	if v, ok := c.Metadata[k]; ok {
		return newCString(v)
	}
	return newCString("")
}

//export mta_host_get_delivery_info
func mta_host_get_delivery_info(ctx C.mta_ctx_t) C.mta_delivery_info_t {
	c := ctxFromHandle(ctx)
	if c.Delivery == nil {
		return C.mta_delivery_info_t{has_delivery: 0}
	}
	var lastErr string
	if c.Delivery.LastError != nil {
		lastErr = c.Delivery.LastError.Error()
	}
	var currentServer string
	if n := len(c.Delivery.Attempts); n > 0 {
		currentServer = c.Delivery.Attempts[n-1].ServerTried
	}
	var domain string
	if c.Msg != nil && len(c.Msg.Envelope.RcptTo) > 0 {
		rcpt := c.Msg.Envelope.RcptTo[0]
		domain = rcpt
		for i := len(rcpt) - 1; i >= 0; i-- {
			if rcpt[i] == '@' {
				domain = rcpt[i+1:]
				break
			}
		}
	}
	return C.mta_delivery_info_t{
		domain:         newCString(domain),
		current_server: newCString(currentServer),
		last_error:     newCString(lastErr),
		attempt_count:  C.int32_t(len(c.Delivery.Attempts)),
		has_delivery:   1,
	}
}

//export mta_host_set_sender
func mta_host_set_sender(ctx C.mta_ctx_t, sender *C.char, length C.size_t) {
	c := ctxFromHandle(ctx)
	if c.Msg == nil {
		return
	}
	c.Msg.Envelope.MailFrom = C.GoStringN(sender, C.int(length))
}

//export mta_host_set_metadata
func mta_host_set_metadata(ctx C.mta_ctx_t, key *C.char, value *C.char, length C.size_t) {
	c := ctxFromHandle(ctx)
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[C.GoString(key)] = C.GoStringN(value, C.int(length))
}

//export mta_host_set_response
func mta_host_set_response(ctx C.mta_ctx_t, code C.int32_t, text *C.char, length C.size_t) {
	c := ctxFromHandle(ctx)
	c.SetReply(int(code), [3]int{}, C.GoStringN(text, C.int(length)))
}

//export mta_host_free_string
func mta_host_free_string(s C.mta_string_t) {
	if s.bytes != nil {
		C.free(unsafe.Pointer(s.bytes))
	}
}

//export mta_host_free_string_vector
func mta_host_free_string_vector(v C.mta_string_vector_t) {
	if v.items == nil {
		return
	}
	slice := unsafe.Slice(v.items, int(v.count))
	for _, s := range slice {
		mta_host_free_string(s)
	}
	C.free(unsafe.Pointer(v.items))
}


