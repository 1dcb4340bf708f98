// Package vm implements the Lingo script runtime.
//
// This package contains:
//   - the Datum value model and its coercions
//   - opcodes, the bytecode builder and compiled Scripts
//   - case-insensitive symbol tables for globals, locals and builtins
//   - the stack interpreter with call frames
//   - the builtin registry and standard builtins
//   - event kinds and the run-to-completion dispatcher
//
// Source text is compiled by package compiler; a VM only executes
// Scripts. Fatal runtime errors abort the current dispatch cycle and are
// returned as *RuntimeError; TypeCoercionWarnings are logged and the
// offending result is replaced by Void.
package vm
