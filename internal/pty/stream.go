package pty

// Overlap drops the part of a subscription that a transcript snapshot
// already covered. Subscribe first, take the snapshot with Output, then pass
// every chunk from the channel through Trim.
type Overlap struct {
	skip int64
}

// NewOverlap takes the offset Subscribe returned and the end offset of the
// snapshot.
func NewOverlap(subscribed, snapshotEnd int64) *Overlap {
	return &Overlap{skip: max(snapshotEnd-subscribed, 0)}
}

// Trim returns the part of chunk not yet shown, possibly empty.
func (o *Overlap) Trim(chunk []byte) []byte {
	if o.skip <= 0 {
		return chunk
	}
	if int64(len(chunk)) <= o.skip {
		o.skip -= int64(len(chunk))
		return nil
	}
	chunk = chunk[o.skip:]
	o.skip = 0
	return chunk
}

// Attach subscribes to h and snapshots its transcript in the order Overlap
// needs. The snapshot is returned along with the trimmer for the channel.
func Attach(h SessionHandle) (snapshot []byte, ch <-chan []byte, trim *Overlap, unsub func(), err error) {
	ch, offset, unsub := h.Subscribe()
	snapshot, end, err := h.Output(0)
	if err != nil {
		unsub()
		return nil, nil, nil, nil, err
	}
	return snapshot, ch, NewOverlap(offset, end), unsub, nil
}
