package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"jobs-admin/client/internal/credential/domain"
)

const (
	fileFormatVersion = 1
	saltSize          = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var fileAAD = []byte("jobsadmin-credential-v1")

// ErrNoPassphrase is returned by NewFileStore when the passphrase is empty.
var ErrNoPassphrase = errors.New("store: file store requires a passphrase")

// envelope is the on-disk layout. Data is the sealed JSON record.
type envelope struct {
	Version int    `json:"v"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Data    []byte `json:"data"`
}

// FileStore keeps the credential in a single file encrypted with XChaCha20-Poly1305 under an
// Argon2id key. Writes go to a temp file in the same directory and are renamed into place.
type FileStore struct {
	path       string
	passphrase []byte

	mu   sync.Mutex
	salt []byte
	key  []byte
}

// NewFileStore returns a FileStore at path.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	return &FileStore{path: path, passphrase: []byte(passphrase)}, nil
}

// keyFor derives (and caches) the key for salt. Caller holds s.mu.
func (s *FileStore) keyFor(salt []byte) []byte {
	if s.key != nil && string(s.salt) == string(salt) {
		return s.key
	}
	s.salt = append([]byte(nil), salt...)
	s.key = argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	return s.key
}

// Save encrypts and atomically replaces the credential file.
func (s *FileStore) Save(_ context.Context, cred domain.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	plain, err := json.Marshal(encode(cred))
	if err != nil {
		return fmt.Errorf("store: encode credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	salt := s.salt
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("store: salt: %w", err)
		}
	}
	aead, err := chacha20poly1305.NewX(s.keyFor(salt))
	if err != nil {
		return fmt.Errorf("store: cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("store: nonce: %w", err)
	}
	out, err := json.Marshal(envelope{
		Version: fileFormatVersion,
		Salt:    salt,
		Nonce:   nonce,
		Data:    aead.Seal(nil, nonce, plain, fileAAD),
	})
	if err != nil {
		return fmt.Errorf("store: encode envelope: %w", err)
	}
	return writeAtomic(s.path, out)
}

// Load decrypts the credential file. A missing file is not an error; an unreadable,
// tampered or wrongly keyed file is treated as no credential.
func (s *FileStore) Load(_ context.Context) (*domain.Credential, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read credential file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != fileFormatVersion || len(env.Salt) == 0 {
		corrupt("file", "envelope unreadable")
		return nil, nil
	}

	s.mu.Lock()
	key := s.keyFor(env.Salt)
	s.mu.Unlock()

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("store: cipher: %w", err)
	}
	if len(env.Nonce) != aead.NonceSize() {
		corrupt("file", "bad nonce")
		return nil, nil
	}
	plain, err := aead.Open(nil, env.Nonce, env.Data, fileAAD)
	if err != nil {
		corrupt("file", "decryption failed")
		return nil, nil
	}
	var rec map[string]string
	if err := json.Unmarshal(plain, &rec); err != nil {
		corrupt("file", "record unreadable")
		return nil, nil
	}
	cred, ok := decode("file", rec)
	if !ok {
		return nil, nil
	}
	return cred, nil
}

// Clear deletes the credential file.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: remove credential file: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("store: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}
