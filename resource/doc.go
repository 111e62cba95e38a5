// Package resource provides handle tables for engine-side resources.
//
// A Lua state hands out values the host cannot copy: functions, userdata,
// coroutines and WASM instances created by scripts. The bridge pins such
// values in a per-handle Table and gives the host an integer Handle instead.
// Closing the engine handle closes the table, which drops every pinned value
// and invalidates all outstanding handles.
//
//	table := resource.NewTable()
//
//	h, err := table.Insert(resource.TypeLuaValue, fn)
//
//	v, ok := table.GetTyped(h, resource.TypeLuaValue)
//
//	table.Remove(h) // unpin early
//	table.Close()   // drops everything that is left
//
// Values implementing Dropper are notified when they leave the table.
//
// Handle 0 is never issued. Released slots are reused under a new
// generation, so a released handle stays invalid.
package resource
