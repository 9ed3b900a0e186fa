// Package vault is encrypted-at-rest credential storage with a lock/unlock
// lifecycle. Values are sealed with AES-256-GCM under a key derived from the
// master password via argon2id; the salt and ciphertexts persist through the
// store, the derived key lives in memory only and is zeroed on lock.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/quorumlabs/quorum/internal/store"
)

const (
	saltSize = 16
	keySize  = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4

	// checkKey is a sentinel sealed on first unlock so later unlocks can
	// verify the password before handing out the vault.
	checkKey = "__vault_check"
)

var (
	ErrLocked      = errors.New("vault locked")
	ErrBadPassword = errors.New("wrong vault password")
	ErrNotFound    = errors.New("vault key not found")
)

// Vault holds encrypted provider credentials.
type Vault struct {
	store store.Store

	mu     sync.RWMutex
	locked bool
	salt   []byte
	key    []byte
	values map[string][]byte
}

// Open loads the persisted salt and ciphertexts. The vault starts locked.
func Open(ctx context.Context, st store.Store) (*Vault, error) {
	v := &Vault{store: st, locked: true, values: make(map[string][]byte)}
	salt, data, err := st.LoadVaultBlob(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vault: %w", err)
	}
	v.salt = salt
	for k, enc := range data {
		decoded, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decode vault entry %s: %w", k, err)
		}
		v.values[k] = decoded
	}
	return v, nil
}

func (v *Vault) IsLocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.locked
}

// Unlock derives the key from the master password. The first unlock of an
// empty vault picks a fresh salt and seals the check sentinel; subsequent
// unlocks verify the password against it.
func (v *Vault) Unlock(ctx context.Context, master []byte) error {
	if len(master) < 8 {
		return errors.New("vault password too short")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	fresh := len(v.salt) == 0
	if fresh {
		v.salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, v.salt); err != nil {
			return err
		}
	}
	key := argon2.IDKey(master, v.salt, argonTime, argonMemory, argonThreads, keySize)

	if sealed, ok := v.values[checkKey]; ok {
		if _, err := decrypt(key, sealed); err != nil {
			return ErrBadPassword
		}
	}

	v.key = key
	v.locked = false

	if _, ok := v.values[checkKey]; !ok {
		sealed, err := encrypt(v.key, []byte("ok"))
		if err != nil {
			return err
		}
		v.values[checkKey] = sealed
		return v.persist(ctx)
	}
	return nil
}

// Lock zeroes the derived key. Ciphertexts stay resident.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
	v.locked = true
}

// Set seals and persists a value.
func (v *Vault) Set(ctx context.Context, key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}
	sealed, err := encrypt(v.key, []byte(value))
	if err != nil {
		return err
	}
	v.values[key] = sealed
	return v.persist(ctx)
}

// Get opens a sealed value.
func (v *Vault) Get(key string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.locked {
		return "", ErrLocked
	}
	sealed, ok := v.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	plain, err := decrypt(v.key, sealed)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	return string(plain), nil
}

// Delete removes a value and persists the change.
func (v *Vault) Delete(ctx context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, key)
	return v.persist(ctx)
}

// Keys lists the stored credential names. Works locked; names are not secret.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		if k == checkKey {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// persist writes the salt and ciphertexts through the store. Caller holds mu.
func (v *Vault) persist(ctx context.Context) error {
	data := make(map[string]string, len(v.values))
	for k, sealed := range v.values {
		data[k] = base64.StdEncoding.EncodeToString(sealed)
	}
	return v.store.SaveVaultBlob(ctx, v.salt, data)
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, data := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}
