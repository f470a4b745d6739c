package dthreads

import "unsafe"

// TwinBitmap is the consumed twin-slot allocator: a bitmap index service
// that hands out non-zero slot ids (0 is reserved for "no twin") backed
// by some page-sized arena. The default implementation lives in the
// bitmap subpackage, wired in through WithTwinBitmap.
type TwinBitmap interface {
	// Alloc returns a fresh slot id. Never returns 0. The slot's bytes
	// are not cleared; createTwin overwrites them.
	Alloc() (uint32, error)
	// Free returns a slot id to the pool. Freeing 0 is a no-op.
	Free(id uint32)
	// Address returns a pointer to the PageSize-sized backing slot for id.
	Address(id uint32) unsafe.Pointer
	// SetVersion records the persistent version the twin was snapshotted at.
	SetVersion(id uint32, version uint64)
	// Version returns the version last recorded by SetVersion.
	Version(id uint32) uint64
}

// createTwin snapshots the persistent contents of pageNo into a freshly
// allocated bitmap slot and records the page's current version alongside
// it. Grounded in xpersist::createTwinPage: the first concurrent writer
// to notice a second user on the page is responsible for the snapshot.
func (r *Region) createTwin(pageNo int) error {
	id, err := r.twins.Alloc()
	if err != nil {
		return err
	}
	r.ownership.SetTwinSlot(pageNo, id)

	twin := r.twins.Address(id)
	persistent := unsafe.Add(unsafe.Pointer(r.persistentBase), pageNo*PageSize)
	copy(unsafe.Slice((*byte)(twin), PageSize), unsafe.Slice((*byte)(persistent), PageSize))

	r.twins.SetVersion(id, r.ownership.Version(pageNo))
	return nil
}
