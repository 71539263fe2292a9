package render

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	magic    = "EMPLAN\x00\x01"
	saltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keySize      = chacha20poly1305.KeySize
)

// FileRenderer writes sealed Markdown artifacts into a directory.
type FileRenderer struct {
	dir    string
	logger *slog.Logger
}

var (
	_ Renderer = (*FileRenderer)(nil)
	_ Store    = (*FileRenderer)(nil)
)

// NewFileRenderer creates dir if needed and returns a renderer writing into it.
func NewFileRenderer(dir string, logger *slog.Logger) (*FileRenderer, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRenderer{dir: dir, logger: logger.With("component", "file_renderer")}, nil
}

// Render seals the document and writes it atomically to <dir>/<task_id>.md.sealed.
func (r *FileRenderer) Render(ctx context.Context, req Request) (string, error) {
	if req.Secret == "" {
		return "", ErrMissingSecret
	}
	if strings.TrimSpace(req.Content) == "" {
		return "", ErrEmptyContent
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sealed, err := seal(document(req.Title, req.Content), req.Secret)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(r.dir, req.TaskID.String()+".md.sealed")
	if err := writeFileAtomic(path, sealed); err != nil {
		return "", err
	}

	r.logger.InfoContext(ctx, "artifact written",
		"task_id", req.TaskID,
		"path", path,
		"size", len(sealed))

	return path, nil
}

func document(title, content string) []byte {
	var b bytes.Buffer
	if title = strings.TrimSpace(title); title != "" {
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(content))
	b.WriteString("\n")
	return b.Bytes()
}

// seal lays out magic | salt | nonce | ciphertext.
func seal(plaintext []byte, secret string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(magic)+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, []byte(magic)), nil
}

// ReadArtifact returns the sealed bytes of an artifact this renderer wrote.
// References outside the artifact directory are treated as missing.
func (r *FileRenderer) ReadArtifact(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(r.dir, filepath.Clean(ref))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s is outside the artifact directory", ErrArtifactNotFound, ref)
	}

	data, err := os.ReadFile(filepath.Join(r.dir, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Open reads the artifact at path and returns the Markdown document.
func Open(path, secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return Unseal(data, secret)
}

// Unseal decrypts sealed artifact bytes with secret.
func Unseal(data []byte, secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	header := len(magic) + saltSize + chacha20poly1305.NonceSizeX
	if len(data) < header || string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: unrecognised format", ErrInvalidArtifact)
	}

	salt := data[len(magic) : len(magic)+saltSize]
	nonce := data[len(magic)+saltSize : header]

	aead, err := chacha20poly1305.NewX(deriveKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, data[header:], []byte(magic))
	if err != nil {
		return nil, fmt.Errorf("%w: wrong secret or corrupted file", ErrInvalidArtifact)
	}
	return plaintext, nil
}

func deriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, keySize)
}

// writeFileAtomic writes to a temp file in the target directory, syncs it and
// renames it into place.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to set artifact permissions: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}
