package segments

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"stream-acquirer/internal/fetch"
	"stream-acquirer/internal/playlist"
)

// keyCache fetches each AES-128 key once and shares it between workers.
// Failed fetches are not cached. A shared fetch runs under the download's
// context with its own timeout, so a waiter giving up does not fail the
// others.
type keyCache struct {
	ctx     context.Context
	timeout time.Duration
	group   singleflight.Group
	mu      sync.Mutex
	keys    map[string][]byte
}

func newKeyCache(ctx context.Context, timeout time.Duration) *keyCache {
	return &keyCache{ctx: ctx, timeout: timeout, keys: make(map[string][]byte)}
}

func (c *keyCache) lookup(keyURL string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.keys[keyURL]
	return k, ok
}

func (c *keyCache) get(ctx context.Context, f fetch.Fetcher, keyURL string, headers map[string]string) ([]byte, error) {
	if k, ok := c.lookup(keyURL); ok {
		return k, nil
	}
	ch := c.group.DoChan(keyURL, func() (any, error) {
		if k, ok := c.lookup(keyURL); ok {
			return k, nil
		}
		fctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()
		k, err := f.FetchBinary(fctx, keyURL, headers)
		if err != nil {
			return nil, err
		}
		if len(k) != aes.BlockSize {
			return nil, errBadKey
		}
		c.mu.Lock()
		c.keys[keyURL] = k
		c.mu.Unlock()
		return k, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

// decryptAES128 decrypts a whole-segment AES-128-CBC payload. Without an
// explicit IV the media sequence number is used, big-endian in 16 bytes.
func decryptAES128(data, key []byte, k *playlist.Key, sequence int) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errUnaligned
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errBadKey
	}

	iv := k.IV
	if len(iv) != aes.BlockSize {
		iv = make([]byte, aes.BlockSize)
		binary.BigEndian.PutUint64(iv[8:], uint64(sequence))
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, errBadPadding
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, errBadPadding
		}
	}
	return out[:len(out)-pad], nil
}
