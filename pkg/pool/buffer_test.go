package pool

import (
	"testing"
)

func TestNewFixedBuffer_InvalidSize(t *testing.T) {
	for _, size := range []int64{0, -1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic for size %d", size)
				}
			}()
			NewFixedBuffer(size)
		}()
	}
}

func TestFixedBufferPool(t *testing.T) {
	size := int64(1024)
	fp := NewFixedBuffer(size)

	if fp.Size() != size {
		t.Errorf("got size %d, want %d", fp.Size(), size)
	}

	// Get
	ptr := fp.Get()
	if len(*ptr) != int(size) {
		t.Errorf("got len %d, want %d", len(*ptr), size)
	}
	if cap(*ptr) != int(size) {
		t.Errorf("got cap %d, want %d", cap(*ptr), size)
	}

	// A shortened buffer comes back at full length.
	*ptr = (*ptr)[:10]
	fp.Put(ptr)
	again := fp.Get()
	if len(*again) != int(size) {
		t.Errorf("got len %d after reuse, want %d", len(*again), size)
	}

	// Put invalid size (should be ignored)
	small := make([]byte, 10)
	fp.Put(&small)

	// Put nil
	fp.Put(nil)
}
