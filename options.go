package dthreads

import "github.com/google/uuid"

// RegionOption configures a Region at construction, following the
// teacher's functional-options idiom (options.go's StoreOption). Kept
// as an exported type so every injectable dependency — logger, twin
// allocator, dirty-descriptor arena — is wired the same way rather than
// through a growing positional-argument list.
type RegionOption func(*regionConfig)

type regionConfig struct {
	id          uuid.UUID
	kind        Kind
	globalAddr  uintptr
	initialData []byte
	reserveVA   int
	logger      Logger
	twins       TwinBitmap
	arena       PageEntryArena
}

func defaultConfig() regionConfig {
	return regionConfig{
		id:        uuid.New(),
		kind:      Heap,
		reserveVA: DefaultReserveVA,
		logger:    NopLogger{},
		arena:     newSlabArena(),
	}
}

// WithID pins the region's identity instead of generating a random one;
// useful for a joining process that already knows the coordinator's id.
func WithID(id uuid.UUID) RegionOption {
	return func(c *regionConfig) { c.id = id }
}

// WithGlobalAddr marks the region as Global and pins its transient view
// at addr, standing in for the original's "intercept the existing
// globals segment" mode. addr must come from ReserveGlobalVA.
func WithGlobalAddr(addr uintptr) RegionOption {
	return func(c *regionConfig) {
		c.kind = Global
		c.globalAddr = addr
	}
}

// WithInitialData seeds the persistent view with data before the region
// is handed back to the caller (the one-time memcpy from the
// pre-existing globals segment in the original's initialize()).
func WithInitialData(data []byte) RegionOption {
	return func(c *regionConfig) { c.initialData = data }
}

// WithReserveVA overrides the virtual address range reserved for each
// view; New uses the larger of this and the page-aligned region size.
// Defaults to DefaultReserveVA.
func WithReserveVA(n int) RegionOption {
	return func(c *regionConfig) { c.reserveVA = n }
}

// WithLogger installs an event logger; defaults to NopLogger.
func WithLogger(l Logger) RegionOption {
	return func(c *regionConfig) { c.logger = l }
}

// WithTwinBitmap installs a custom twin-slot allocator in place of the
// default RoaringBitmap-backed arena (see bitmap.Arena).
func WithTwinBitmap(t TwinBitmap) RegionOption {
	return func(c *regionConfig) { c.twins = t }
}

// WithPageArena installs a custom dirty-descriptor arena in place of
// the default slab allocator.
func WithPageArena(a PageEntryArena) RegionOption {
	return func(c *regionConfig) { c.arena = a }
}
