package infer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"hapied/pkg/types"
)

// Keystore keeps provider API keys in a 0600 file with AES-GCM
// obfuscation. Not a replacement for an OS keychain, but keys never sit
// in plain-text config.
type Keystore struct {
	mu   sync.Mutex
	path string
}

type keyRecord struct {
	Cipher    string `json:"cipher"` // base64(nonce||ciphertext)
	CreatedAt int64  `json:"created_at"`
}

type keyFile struct {
	Keys map[string]keyRecord `json:"keys"`
}

// NewKeystore stores keys at path, creating parent directories with
// owner-only permissions.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

// Store encrypts and persists a provider key, replacing any previous one.
func (k *Keystore) Store(provider types.CloudProvider, key string) error {
	if key == "" {
		return fmt.Errorf("empty api key")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return err
	}
	ct, err := encrypt([]byte(key))
	if err != nil {
		return err
	}
	kf.Keys[string(provider)] = keyRecord{
		Cipher:    base64.StdEncoding.EncodeToString(ct),
		CreatedAt: time.Now().Unix(),
	}
	return k.save(kf)
}

// Fetch decrypts the stored key for provider.
func (k *Keystore) Fetch(provider types.CloudProvider) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return "", err
	}
	rec, ok := kf.Keys[string(provider)]
	if !ok {
		return "", keyNotFoundError{provider: string(provider)}
	}
	raw, err := base64.StdEncoding.DecodeString(rec.Cipher)
	if err != nil {
		return "", fmt.Errorf("corrupt key record: %w", err)
	}
	pt, err := decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("decrypt key: %w", err)
	}
	return string(pt), nil
}

// Delete removes the stored key for provider. Deleting an absent key is
// not an error.
func (k *Keystore) Delete(provider types.CloudProvider) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return err
	}
	delete(kf.Keys, string(provider))
	return k.save(kf)
}

// List returns masked previews of every stored key.
func (k *Keystore) List() ([]types.KeyInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kf, err := k.load()
	if err != nil {
		return nil, err
	}
	out := make([]types.KeyInfo, 0, len(kf.Keys))
	for provider, rec := range kf.Keys {
		out = append(out, types.KeyInfo{
			Provider:   types.CloudProvider(provider),
			KeyPreview: maskKey(rec),
			CreatedAt:  rec.CreatedAt,
		})
	}
	return out, nil
}

func (k *Keystore) load() (keyFile, error) {
	kf := keyFile{Keys: map[string]keyRecord{}}
	data, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return kf, nil
		}
		return kf, err
	}
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("corrupt keystore file: %w", err)
	}
	if kf.Keys == nil {
		kf.Keys = map[string]keyRecord{}
	}
	return kf, nil
}

func (k *Keystore) save(kf keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, k.path)
}

// maskKey shows the last 4 plaintext characters at most.
func maskKey(rec keyRecord) string {
	raw, err := base64.StdEncoding.DecodeString(rec.Cipher)
	if err != nil {
		return "****"
	}
	pt, err := decrypt(raw)
	if err != nil || len(pt) < 8 {
		return "****"
	}
	return "****" + string(pt[len(pt)-4:])
}

// masterKey derives the file obfuscation key from stable host identity.
func masterKey() []byte {
	host, _ := os.Hostname()
	base := fmt.Sprintf("hapied-%s-%s-%s", runtime.GOOS, host, os.Getenv("USER"))
	hash := sha256.Sum256([]byte(base))
	return hash[:]
}

func encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(masterKey())
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
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(masterKey())
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
