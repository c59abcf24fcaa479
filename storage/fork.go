package storage

// Fork is a mutable, isolated view that accumulates writes on top of its
// parent. Reads consult the local write set first and fall through to the
// parent, so a fork always observes its own pending mutations.
//
// Commit is all-or-nothing: a fork created directly from the store commits
// its write set as a single LevelDB batch, a child fork merges its write set
// into the parent fork in one step. Discard drops every accumulated write.
// Nothing a fork buffers is visible to any other view until committed.
//
// A fork is not safe for concurrent use; transaction execution is strictly
// single-threaded, which is what makes this sufficient.
type Fork struct {
	parent View
	store  *Store // non-nil only for root forks
	writes map[string][]byte
}

// Fork creates a child fork layered on top of this one. Child forks carry
// per-transaction mutations inside a per-block root fork.
func (f *Fork) Fork() *Fork {
	return &Fork{parent: f, writes: make(map[string][]byte)}
}

// Get returns the pending write for key if present, otherwise the parent's
// value.
func (f *Fork) Get(key []byte) ([]byte, error) {
	if value, ok := f.writes[string(key)]; ok {
		return append([]byte(nil), value...), nil
	}
	return f.parent.Get(key)
}

// Has reports whether the key exists in this fork's view.
func (f *Fork) Has(key []byte) (bool, error) {
	if _, ok := f.writes[string(key)]; ok {
		return true, nil
	}
	return f.parent.Has(key)
}

// Put buffers a write. It is never visible outside this fork until Commit.
func (f *Fork) Put(key, value []byte) {
	f.writes[string(key)] = append([]byte(nil), value...)
}

// Len returns the number of buffered writes.
func (f *Fork) Len() int {
	return len(f.writes)
}

// Commit applies the accumulated writes as a unit. For a root fork this is a
// single atomic batch write to the store; for a child fork the writes move
// into the parent fork. The fork must not be used after Commit.
func (f *Fork) Commit() error {
	if f.store != nil {
		if err := f.store.writeBatch(f.writes); err != nil {
			return err
		}
		f.writes = nil
		return nil
	}
	parent := f.parent.(*Fork)
	for key, value := range f.writes {
		parent.writes[key] = value
	}
	f.writes = nil
	return nil
}

// Discard drops every buffered write. The fork must not be used afterwards.
func (f *Fork) Discard() {
	f.writes = nil
}
