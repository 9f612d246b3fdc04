// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/kitty/relay/offload.go
// Summary: Real-filesystem TempFileSink implementation, following the
// temp file naming convention of spec.md §6.
// Usage: Wired into Relay/broker in production; tests use the fake
// sink in relay_test.go instead.

package relay

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// FileSink offloads payloads to real temp files named per spec.md §6:
// "${tmpdir}/openmux-tty-graphics-protocol-<hex-timestamp>-<counter>-<hex-rand>.bin".
type FileSink struct {
	dir          string
	counter      uint64
	cleanupDelay time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewFileSink creates a sink rooted at dir (os.TempDir() in
// production) with the given cleanup delay.
func NewFileSink(dir string, cleanupDelay time.Duration) *FileSink {
	return &FileSink{
		dir:          dir,
		cleanupDelay: cleanupDelay,
		pending:      make(map[string]*time.Timer),
	}
}

func (s *FileSink) Open() (OffloadHandle, string, error) {
	n := atomic.AddUint64(&s.counter, 1)
	var randBytes [4]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return nil, "", fmt.Errorf("offload: read random suffix: %w", err)
	}
	name := fmt.Sprintf("openmux-tty-graphics-protocol-%x-%d-%s.bin",
		time.Now().UnixNano(), n, hex.EncodeToString(randBytes[:]))
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, "", fmt.Errorf("offload: open %s: %w", path, err)
	}
	return &fileHandle{f: f, sink: s, path: path}, path, nil
}

// scheduleCleanup arms a one-shot removal of path after the
// configured cleanup delay (spec.md §4.D step 7).
func (s *FileSink) scheduleCleanup(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[path]; exists {
		return
	}
	s.pending[path] = time.AfterFunc(s.cleanupDelay, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("kitty/relay: offload cleanup failed for %s: %v", path, err)
		}
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
	})
}

// Abort cancels any scheduled cleanup and removes path immediately;
// used by ClearPty so no leaked fds survive PTY teardown.
func (s *FileSink) Abort(path string) {
	s.mu.Lock()
	if timer, ok := s.pending[path]; ok {
		timer.Stop()
		delete(s.pending, path)
	}
	s.mu.Unlock()
	_ = os.Remove(path)
}

type fileHandle struct {
	f    *os.File
	sink *FileSink
	path string
}

func (h *fileHandle) Write(p []byte) (int, error) { return h.f.Write(p) }

func (h *fileHandle) Close() error {
	err := h.f.Close()
	h.sink.scheduleCleanup(h.path)
	return err
}
