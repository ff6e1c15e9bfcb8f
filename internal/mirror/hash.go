package mirror

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/promirror/promirror/internal/config"
)

// hasher computes content hashes with a configurable algorithm
type hasher struct {
	algo config.HashAlgorithm
}

func newHasher(algo config.HashAlgorithm) (*hasher, error) {
	switch algo {
	case config.HashSHA1, config.HashSHA256:
		return &hasher{algo: algo}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algo)
	}
}

func (h *hasher) new() hash.Hash {
	if h.algo == config.HashSHA256 {
		return sha256.New()
	}
	return sha1.New()
}

// File computes the content hash of a single file
func (h *hasher) File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	sum := h.new()
	if _, err := io.Copy(sum, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Files hashes the given paths with bounded concurrency. Paths that do not
// exist map to an empty hash so callers can treat absence as "differs".
// The first I/O error aborts the whole batch.
func (h *hasher) Files(paths []string, workers int) (map[string]string, error) {
	results := make(map[string]string, len(paths))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(workers)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			sum, err := h.File(path)
			if err != nil {
				if os.IsNotExist(err) {
					sum = ""
				} else {
					return fmt.Errorf("failed to hash %s: %w", path, err)
				}
			}

			mu.Lock()
			results[path] = sum
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
