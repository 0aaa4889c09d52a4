// Package errcode provides a module scoped error code space for fatal and
// programmer error signaling. Every module owns a ModuleID and an enum of
// Codes unique within that module. The multiplexer core itself never depends
// on this package, its failures are plain boolean or empty results; collaborators
// like timers and shared memory segments report through it.
package errcode

import (
	"fmt"

	"waitmux/common"
)

type ModuleID uint16

type Code uint32

// moduleNames maps registered module ids to human readable names used when
// formatting errors.
var moduleNames common.SyncMap[ModuleID, string]

// Register binds a name to a module id. Registering the same id under a
// different name is a programmer error and panics.
func Register(id ModuleID, name string) {
	if existing, loaded := moduleNames.LoadOrStore(id, name); loaded && existing != name {
		panic(fmt.Sprintf("module id %d registered twice: %q and %q", id, existing, name))
	}
}

// ModuleName returns the registered name of a module id or "unknown".
func ModuleName(id ModuleID) string {
	name, ok := moduleNames.Load(id)
	if !ok {
		return "unknown"
	}

	return name
}

// Error carries a {module id, code} pair plus a fixed description. It is
// comparable, so values created once at package level work with errors.Is.
type Error struct {
	Module ModuleID
	Code   Code
	Msg    string
}

func New(module ModuleID, code Code, msg string) Error {
	return Error{Module: module, Code: code, Msg: msg}
}

func (e Error) Error() string {
	return fmt.Sprintf("%s [%d:%d]: %s", ModuleName(e.Module), e.Module, e.Code, e.Msg)
}
