package keyfs

import (
	"encoding"
	"hash"
	"reflect"

	"github.com/wasirt/vfskit/vfs"
)

// cloneHash snapshots a running hash.Hash into an independent copy so
// sign/verify can compute a digest over bytes seen so far without
// disturbing the handle's own running state. Stdlib hash implementations
// support this via their encoding.BinaryMarshaler state.
func cloneHash(h hash.Hash) (hash.Hash, error) {
	marshaler, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, vfs.ErrIO("keyfs: hash implementation does not support state cloning")
	}
	state, err := marshaler.MarshalBinary()
	if err != nil {
		return nil, vfs.ErrIO("keyfs: marshaling hash state failed: %v", err)
	}

	clone, ok := reflect.New(reflect.TypeOf(h).Elem()).Interface().(hash.Hash)
	if !ok {
		return nil, vfs.ErrIO("keyfs: hash implementation does not support state cloning")
	}
	unmarshaler, ok := clone.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, vfs.ErrIO("keyfs: hash implementation does not support state cloning")
	}
	if err := unmarshaler.UnmarshalBinary(state); err != nil {
		return nil, vfs.ErrIO("keyfs: unmarshaling hash state failed: %v", err)
	}
	return clone, nil
}
