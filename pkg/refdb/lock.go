package refdb

// FNV-1a parameters matching the advisory-lock key derivation: the seed
// and prime are the standard 64-bit FNV-1a constants, and the repo ID
// is folded in as four big-endian bytes before the name bytes.
const (
	fnvSeed  uint64 = 0xcbf29ce484222325
	fnvPrime uint64 = 0x100000001b3
)

// lockKey derives the signed 64-bit advisory-lock key for (repoID, name).
// Distinct refs hash to distinct keys with high probability, so
// concurrent updates to different refs do not serialise on one lock.
func lockKey(repoID int64, name string) int64 {
	h := fnvSeed

	// repo_id mixed in as four big-endian bytes, matching hash_refname()
	// in the original backend.
	rid := uint32(repoID)
	idBytes := [4]byte{
		byte(rid >> 24),
		byte(rid >> 16),
		byte(rid >> 8),
		byte(rid),
	}
	for _, b := range idBytes {
		h ^= uint64(b)
		h *= fnvPrime
	}

	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= fnvPrime
	}

	return int64(h)
}

// LockToken is the opaque handle returned by Backend.Lock, carrying the
// derived key and ref name so Unlock can log/validate against it.
type LockToken struct {
	key  int64
	name string
}

// Disposition selects what Unlock does with the transaction it closes.
type Disposition int

const (
	// Discard rolls back and releases the lock without touching the ref.
	Discard Disposition = iota
	// ApplyUpdate upserts the ref row (and optionally a reflog entry)
	// before committing.
	ApplyUpdate
	// ApplyDelete deletes the ref row and its reflog rows before committing.
	ApplyDelete
)
