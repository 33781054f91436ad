// Package checkpoint saves and loads engine snapshots so a long run can be
// resumed.
//
// A checkpoint file is a single JSON header line followed by a gzip
// compressed JSON payload. The header carries a sha256 checksum of the
// compressed bytes and a fingerprint of the graph topology, so a corrupted
// file or a file from a different network is rejected before resuming.
package checkpoint

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/pcosc/internal/engine"
	"github.com/nvandessel/pcosc/internal/network"
)

// FormatVersion is the current checkpoint format.
const FormatVersion = 1

// MaxDecompressedSize bounds the payload size (64MB).
const MaxDecompressedSize = 64 * 1024 * 1024

var (
	ErrChecksum    = errors.New("checkpoint checksum mismatch")
	ErrVersion     = errors.New("unsupported checkpoint version")
	ErrFingerprint = errors.New("checkpoint was taken from a different network")
)

// Header is the plain-text first line of a checkpoint file.
type Header struct {
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Checksum    string            `json:"checksum"`
	Fingerprint string            `json:"fingerprint"`
	Step        int               `json:"step"`
	Time        float64           `json:"time"`
	DT          float64           `json:"dt"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Checkpoint is a decoded checkpoint file.
type Checkpoint struct {
	Header   Header
	Snapshot engine.Snapshot
}

// Fingerprint hashes the parts of a graph that a snapshot depends on:
// population names and dimensions and every connection's endpoints and
// filter dimension, in declaration order.
func Fingerprint(g *network.Graph) string {
	h := sha256.New()
	for _, p := range g.Populations() {
		fmt.Fprintf(h, "pop %s %d\n", p.Name, p.Dim)
	}
	for _, c := range g.Connections() {
		fmt.Fprintf(h, "conn %s %d %g\n", c.Label(), c.OutDim(), c.Synapse)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Write saves snap for graph g at path, creating parent directories.
func Write(path string, g *network.Graph, snap engine.Snapshot, metadata map[string]string) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	header := Header{
		Version:     FormatVersion,
		CreatedAt:   time.Now().UTC(),
		Checksum:    checksum(compressed.Bytes()),
		Fingerprint: Fingerprint(g),
		Step:        snap.Step,
		Time:        snap.Time,
		DT:          snap.DT,
		Metadata:    metadata,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	// Write atomically via temp file + rename.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	w := bufio.NewWriter(f)
	w.Write(headerBytes)
	w.WriteByte('\n')
	w.Write(compressed.Bytes())
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		// Clean up temp file on rename failure.
		os.Remove(tmp)
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	return nil
}

// ReadHeader reads only the header line.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	header, _, err := readHeader(bufio.NewReader(f))
	return header, err
}

// Read loads and verifies a checkpoint. If g is non-nil the checkpoint must
// have been written for the same topology.
func Read(path string, g *network.Graph) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	header, reader, err := readHeader(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	if g != nil && header.Fingerprint != Fingerprint(g) {
		return nil, ErrFingerprint
	}

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	if actual := checksum(compressed); actual != header.Checksum {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, actual)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if len(decompressed) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	cp := &Checkpoint{Header: *header}
	if err := json.Unmarshal(decompressed, &cp.Snapshot); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return cp, nil
}

func readHeader(r *bufio.Reader) (*Header, *bufio.Reader, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header line: %w", err)
	}
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrVersion, header.Version)
	}
	return &header, r, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
