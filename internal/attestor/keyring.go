package attestor

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
)

// Keyring is an append-only set of keys with one active signing key.
//
// Readers never lock: the key map and the active key are immutable values
// behind atomic pointers. Writers serialize on mu and publish a new map before
// moving the active pointer, so a reader that sees a new active key can always
// look it up.
type Keyring struct {
	mu     sync.Mutex
	keys   atomic.Pointer[map[string]*Key]
	active atomic.Pointer[Key]
}

func NewKeyring() *Keyring {
	r := &Keyring{}
	empty := map[string]*Key{}
	r.keys.Store(&empty)
	return r
}

// Add appends k. Adding a kid again with the same public key is a no-op; a
// different public key under a known kid is refused.
func (r *Keyring) Add(k *Key) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(k)
}

func (r *Keyring) addLocked(k *Key) (bool, error) {
	current := *r.keys.Load()
	if existing, ok := current[k.KID]; ok {
		if !bytes.Equal(existing.Public, k.Public) {
			return false, fmt.Errorf("kid %s already registered with a different public key", k.KID)
		}
		return false, nil
	}
	next := maps.Clone(current)
	next[k.KID] = k
	r.keys.Store(&next)
	return true, nil
}

// Activate moves the active pointer to a known kid.
func (r *Keyring) Activate(kid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := (*r.keys.Load())[kid]
	if !ok {
		return fmt.Errorf("kid %s is not in the keyring", kid)
	}
	r.active.Store(k)
	return nil
}

// Active returns the key new signatures must use, or nil before the first
// activation. Callers read it once per signature.
func (r *Keyring) Active() *Key {
	return r.active.Load()
}

func (r *Keyring) Lookup(kid string) (*Key, bool) {
	k, ok := (*r.keys.Load())[kid]
	return k, ok
}

// Public returns every known public key by kid.
func (r *Keyring) Public() map[string]ed25519.PublicKey {
	current := *r.keys.Load()
	out := make(map[string]ed25519.PublicKey, len(current))
	for kid, k := range current {
		out[kid] = k.Public
	}
	return out
}

// KIDs returns the known kids in sorted order.
func (r *Keyring) KIDs() []string {
	current := *r.keys.Load()
	out := make([]string, 0, len(current))
	for kid := range current {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}
