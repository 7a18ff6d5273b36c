// Package keydir resolves user ids to ed25519 verification keys. The server
// consults it once per envelope; a miss means the signer is not a user this
// deployment knows about.
package keydir

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/ssh"

	"signet/internal/common"
	"signet/internal/models"
)

type Directory interface {
	Resolve(ctx context.Context, user models.UserKey) (ed25519.PublicKey, error)
}

// IdentityDirectory treats the user id as the key material itself: any
// well-formed 32-byte hex id resolves. This is the open-registration mode;
// identity is possession of the private key.
type IdentityDirectory struct{}

func (IdentityDirectory) Resolve(_ context.Context, user models.UserKey) (ed25519.PublicKey, error) {
	pub, err := user.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnknownUser, err)
	}
	return pub, nil
}

// FileDirectory restricts users to the ed25519 entries of an OpenSSH
// authorized_keys file. Entries of other key types, comments and unparsable
// lines are skipped. The file can be edited while the server runs; Watch
// reloads it on change.
type FileDirectory struct {
	path string

	mu   sync.RWMutex
	keys map[models.UserKey]ed25519.PublicKey
}

func NewFileDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *FileDirectory) Resolve(_ context.Context, user models.UserKey) (ed25519.PublicKey, error) {
	d.mu.RLock()
	pub, ok := d.keys[user]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s not in key directory", common.ErrUnknownUser, user)
	}
	return pub, nil
}

// Len reports how many keys are currently loaded.
func (d *FileDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.keys)
}

// Reload re-reads the authorized_keys file and swaps the key set in one step.
func (d *FileDirectory) Reload() error {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read key directory: %w", err)
	}

	keys := make(map[models.UserKey]ed25519.PublicKey)
	rest := raw
	for len(rest) > 0 {
		pub, _, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			break
		}
		rest = next

		ck, ok := pub.(ssh.CryptoPublicKey)
		if !ok {
			continue
		}
		edPub, ok := ck.CryptoPublicKey().(ed25519.PublicKey)
		if !ok {
			continue
		}
		keys[models.KeyToUser(edPub)] = edPub
	}

	d.mu.Lock()
	d.keys = keys
	d.mu.Unlock()

	log.Printf("[KEYDIR] Loaded %d ed25519 keys from %s", len(keys), d.path)
	return nil
}

// Watch blocks until ctx is done, reloading the key file whenever it changes.
// The parent directory is watched so atomic replace-by-rename is seen too.
func (d *FileDirectory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("key directory watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		return fmt.Errorf("watch %s: %w", d.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != d.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := d.Reload(); err != nil {
				log.Printf("[KEYDIR] Reload after %s failed: %v", ev.Op, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[KEYDIR] Watcher error: %v", err)
		}
	}
}
