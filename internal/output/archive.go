package output

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/crypto/pbkdf2"

	"github.com/casgen-dev/casgen/internal/types"
)

// Encrypted container layout: magic, format version, KDF iteration count,
// salt, GCM nonce, ciphertext. Everything a reader needs to derive the key
// sits in the header.
const (
	encMagic   = "CGEN"
	encVersion = byte(1)

	kdfIterations = 200_000
	saltSize      = 16
	keySize       = 32
)

// WriteBundle packs the named files from dir into a zip at dir/name. Entry
// timestamps are pinned to modTime so identical inputs produce identical
// bundles.
func WriteBundle(dir, name string, files []string, modTime time.Time) (types.OutputFile, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return types.OutputFile{}, fmt.Errorf("create bundle: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, fn := range files {
		hdr := &zip.FileHeader{Name: fn, Method: zip.Deflate, Modified: modTime.UTC()}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return types.OutputFile{}, fmt.Errorf("bundle entry %s: %w", fn, err)
		}
		src, err := os.Open(filepath.Join(dir, fn))
		if err != nil {
			return types.OutputFile{}, fmt.Errorf("bundle entry %s: %w", fn, err)
		}
		_, err = io.Copy(w, src)
		src.Close()
		if err != nil {
			return types.OutputFile{}, fmt.Errorf("bundle entry %s: %w", fn, err)
		}
	}
	if err := zw.Close(); err != nil {
		return types.OutputFile{}, fmt.Errorf("finalize bundle: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return types.OutputFile{}, err
	}
	return types.OutputFile{
		Name:        name,
		Format:      "zip",
		ContentType: "application/zip",
		SizeBytes:   info.Size(),
	}, nil
}

// WriteEncryptedBundle packs the named files and seals the bundle with a
// password-derived key. The result replaces the plaintext zip on disk.
func WriteEncryptedBundle(dir, name string, files []string, password string, modTime time.Time) (types.OutputFile, error) {
	tmp := name + ".tmp"
	if _, err := WriteBundle(dir, tmp, files, modTime); err != nil {
		return types.OutputFile{}, err
	}
	tmpPath := filepath.Join(dir, tmp)
	defer os.Remove(tmpPath)

	plain, err := os.ReadFile(tmpPath)
	if err != nil {
		return types.OutputFile{}, fmt.Errorf("read bundle for sealing: %w", err)
	}
	sealed, err := Encrypt(plain, password)
	if err != nil {
		return types.OutputFile{}, err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, sealed, 0o644); err != nil {
		return types.OutputFile{}, fmt.Errorf("write sealed bundle: %w", err)
	}
	return types.OutputFile{
		Name:        name,
		Format:      "zip",
		ContentType: "application/octet-stream",
		SizeBytes:   int64(len(sealed)),
	}, nil
}

// Encrypt seals data under a password with PBKDF2-derived AES-256-GCM. A
// fresh salt and nonce are drawn per archive.
func Encrypt(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("draw salt: %w", err)
	}
	gcm, err := deriveCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}

	header := make([]byte, 0, len(encMagic)+1+4+len(salt)+len(nonce))
	header = append(header, encMagic...)
	header = append(header, encVersion)
	header = binary.BigEndian.AppendUint32(header, kdfIterations)
	header = append(header, salt...)
	header = append(header, nonce...)
	return gcm.Seal(header, nonce, data, nil), nil
}

// Decrypt opens an archive sealed by Encrypt.
func Decrypt(sealed []byte, password string) ([]byte, error) {
	headerLen := len(encMagic) + 1 + 4 + saltSize
	if len(sealed) < headerLen {
		return nil, fmt.Errorf("sealed archive too short")
	}
	if string(sealed[:len(encMagic)]) != encMagic {
		return nil, fmt.Errorf("not a sealed archive")
	}
	if sealed[len(encMagic)] != encVersion {
		return nil, fmt.Errorf("unsupported archive version %d", sealed[len(encMagic)])
	}
	off := len(encMagic) + 1
	iterations := binary.BigEndian.Uint32(sealed[off : off+4])
	off += 4
	salt := sealed[off : off+saltSize]
	off += saltSize

	key := pbkdf2.Key([]byte(password), salt, int(iterations), keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < off+gcm.NonceSize() {
		return nil, fmt.Errorf("sealed archive truncated")
	}
	nonce := sealed[off : off+gcm.NonceSize()]
	off += gcm.NonceSize()

	plain, err := gcm.Open(nil, nonce, sealed[off:], nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed archive: %w", err)
	}
	return plain, nil
}

func deriveCipher(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
