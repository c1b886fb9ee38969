package storage

import (
	"bytes"
	"sort"
)

// Overlay buffers the writes of one transaction on top of a Backend. Reads
// see the buffered writes first. It is not safe for concurrent use; a
// transaction runs on a single goroutine.
type Overlay struct {
	base  Backend
	dirty map[string]Op
}

// NewOverlay starts an empty overlay over base.
func NewOverlay(base Backend) *Overlay {
	return &Overlay{base: base, dirty: make(map[string]Op)}
}

func (o *Overlay) Get(key []byte) ([]byte, bool, error) {
	if op, ok := o.dirty[string(key)]; ok {
		if op.Delete {
			return nil, false, nil
		}
		return op.Value, true, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Put(key, value []byte) {
	k := string(key)
	o.dirty[k] = Op{Key: []byte(k), Value: append([]byte(nil), value...)}
}

func (o *Overlay) Delete(key []byte) {
	k := string(key)
	o.dirty[k] = Op{Key: []byte(k), Delete: true}
}

// Prefix merges buffered writes with the backend, in key order.
func (o *Overlay) Prefix(prefix []byte) ([]KV, error) {
	base, err := o.base.Prefix(prefix)
	if err != nil {
		return nil, err
	}
	merged := make(map[string][]byte, len(base))
	for _, kv := range base {
		merged[string(kv.Key)] = kv.Value
	}
	for k, op := range o.dirty {
		if !bytes.HasPrefix(op.Key, prefix) {
			continue
		}
		if op.Delete {
			delete(merged, k)
		} else {
			merged[k] = op.Value
		}
	}
	out := make([]KV, 0, len(merged))
	for k, v := range merged {
		out = append(out, KV{Key: []byte(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// Ops returns the buffered writes in key order.
func (o *Overlay) Ops() []Op {
	ops := make([]Op, 0, len(o.dirty))
	for _, op := range o.dirty {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return bytes.Compare(ops[i].Key, ops[j].Key) < 0 })
	return ops
}

// Len is the number of buffered writes.
func (o *Overlay) Len() int { return len(o.dirty) }

// Commit applies every buffered write to the backend in one batch and
// empties the overlay.
func (o *Overlay) Commit() error {
	if err := o.base.Write(o.Ops()); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops every buffered write.
func (o *Overlay) Discard() {
	o.dirty = make(map[string]Op)
}
