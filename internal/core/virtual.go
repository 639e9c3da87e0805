package core

// Virtual property keys injected into every row the derived view hands
// back to a caller. They live alongside the row's own fields rather than
// in a side channel so a plain map lookup is enough to read them.
const (
	VKey          = "$key"
	VCollectionID = "$collectionId"
	VSynced       = "$synced"
	VOrigin       = "$origin"
)

// EnsureVirtuals returns a copy of row with its virtual properties set:
// the key it was looked up under, the collection it came from, whether it
// reflects confirmed synced state (no optimistic overlay touching it), and
// which kind of change last produced it.
func EnsureVirtuals(row Row, key Key, collectionID string, synced bool, origin Origin) Row {
	out := row.Clone()
	out[VKey] = string(key)
	out[VCollectionID] = collectionID
	out[VSynced] = synced
	out[VOrigin] = string(origin)
	return out
}
