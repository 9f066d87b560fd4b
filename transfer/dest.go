package transfer

import (
	"errors"
	"hash"
	"io/fs"
	"os"

	"golang.org/x/crypto/blake2b"
)

// RemoveDest deletes a destination file left over from a previous transfer.
// A missing file is not an error.
func RemoveDest(file string) error {
	err := os.Remove(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Dest is a destination file being written by a client.
// It tracks the number of bytes written and their digest.
type Dest struct {
	f    *os.File
	hash hash.Hash
	n    int64
}

// CreateDest creates (or truncates) the destination file.
func CreateDest(file string) (*Dest, error) {
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	h, _ := blake2b.New256(nil)
	return &Dest{f: f, hash: h}, nil
}

func (d *Dest) Write(b []byte) (int, error) {
	n, err := d.f.Write(b)
	d.hash.Write(b[:n])
	d.n += int64(n)
	return n, err
}

// Written returns the number of bytes written so far.
func (d *Dest) Written() int64 { return d.n }

// Digest returns the BLAKE2b-256 hash of the bytes written so far.
func (d *Dest) Digest() (sum [32]byte) {
	copy(sum[:], d.hash.Sum(nil))
	return sum
}

func (d *Dest) Name() string { return d.f.Name() }

func (d *Dest) Close() error { return d.f.Close() }
