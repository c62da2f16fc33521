package core

// ReadState records how a collection read resolved.
type ReadState int

const (
	// ReadPresent means the key held a well-formed collection.
	ReadPresent ReadState = iota
	// ReadAbsent means the key does not exist; the collection is empty.
	ReadAbsent
	// ReadMalformed means the stored value could not be decoded and was
	// treated as an empty collection.
	ReadMalformed
	// ReadFailed means the backend returned an error; the listing is empty and
	// carries the error.
	ReadFailed
)

func (s ReadState) String() string {
	switch s {
	case ReadPresent:
		return "present"
	case ReadAbsent:
		return "absent"
	case ReadMalformed:
		return "malformed"
	case ReadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Listing is the outcome of reading one persisted collection. Degraded reads
// never return an error directly: Items is empty and State says why.
type Listing[T any] struct {
	Items    []T
	Revision Revision
	State    ReadState
	Err      error
}

// OK reports whether the read was not degraded.
func (l Listing[T]) OK() bool {
	return l.State == ReadPresent || l.State == ReadAbsent
}

// Len returns the number of items.
func (l Listing[T]) Len() int { return len(l.Items) }

func filterListing[T any](in Listing[T], keep func(T) bool) Listing[T] {
	out := in
	out.Items = nil
	for _, item := range in.Items {
		if keep(item) {
			out.Items = append(out.Items, item)
		}
	}
	return out
}
