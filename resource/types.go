package resource

// Handle is an opaque reference to a resource in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// TypeID tags the kind of value stored under a handle.
type TypeID uint32

const (
	TypeLuaValue     TypeID = 1 // table, function, userdata or thread owned by a Lua state
	TypeWASMInstance TypeID = 2 // module instantiated by the wasm Lua library
)

// Dropper is optionally implemented by resource values that need cleanup.
type Dropper interface {
	Drop()
}
