package mapper

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureStore_KeepsLongest(t *testing.T) {
	s := NewSignatureStore()
	s.Store("short-sig")
	s.Store("a-much-longer-signature")
	s.Store("tiny")
	s.Store("")

	assert.Equal(t, "a-much-longer-signature", s.Get())
}

func TestSignatureStore_TakeAndClear(t *testing.T) {
	s := NewSignatureStore()
	s.Store("signature-1")

	assert.Equal(t, "signature-1", s.Take())
	assert.Empty(t, s.Get())

	s.Store("sig")
	s.Clear()
	assert.Empty(t, s.Take())

	// After clearing, a shorter signature is accepted again.
	s.Store("x")
	assert.Equal(t, "x", s.Get())
}

func TestSignatureStore_Concurrent(t *testing.T) {
	s := NewSignatureStore()
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b := make([]byte, n)
			for j := range b {
				b[j] = 's'
			}
			s.Store(string(b))
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Get(), 50)
}
