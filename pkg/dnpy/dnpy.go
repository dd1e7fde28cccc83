// Package dnpy reads and writes the .dnpy shard file format: a magic tag, a
// JSON header carrying the shard's dimension specs, and the shard buffer as
// little-endian float64 values. Each rank persists its own shard to
// <prefix>_<rank>.dnpy.
package dnpy

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dacompute/distarray/pkg/distmap"
	"github.com/dacompute/distarray/pkg/localarray"
)

var magic = []byte("\x93DNPY")

const (
	versionMajor byte = 1
	versionMinor byte = 0
)

var (
	// ErrBadMagic reports a file that is not a .dnpy file.
	ErrBadMagic = errors.New("not a dnpy file")
	// ErrVersion reports an unsupported format version.
	ErrVersion = errors.New("unsupported dnpy version")
	// ErrTrailingData reports a file longer than its header describes.
	ErrTrailingData = errors.New("trailing data after payload")
)

// maxHeaderLen bounds the JSON header so a corrupt length field cannot force
// a huge allocation.
const maxHeaderLen = 1 << 20

// header is the JSON metadata block between the magic tag and the payload.
type header struct {
	DimSpecs []distmap.DimSpec `json:"dim_data"`
	DType    string            `json:"dtype"`
}

// Filename returns the conventional shard file name for a rank.
func Filename(prefix string, rank int) string {
	return fmt.Sprintf("%s_%d.dnpy", prefix, rank)
}

// Save writes a shard to path.
func Save(path string, la *localarray.LocalArray) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dnpy file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := Write(w, la); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Sync()
}

// Load reads a shard from path.
func Load(path string) (*localarray.LocalArray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dnpy file: %w", err)
	}
	defer f.Close()

	la, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return la, nil
}

// Write serializes a shard to w.
func Write(w io.Writer, la *localarray.LocalArray) error {
	hdr, err := json.Marshal(header{DimSpecs: la.Specs(), DType: "float64"})
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	if _, err := w.Write(magic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{versionMajor, versionMinor}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, la.Data())
}

// Read deserializes a shard from r.
func Read(r io.Reader) (*localarray.LocalArray, error) {
	tag := make([]byte, len(magic))
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(tag) != string(magic) {
		return nil, ErrBadMagic
	}

	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version[0] != versionMajor {
		return nil, fmt.Errorf("version %d.%d: %w", version[0], version[1], ErrVersion)
	}

	var hdrLen uint32
	if err := binary.Read(r, binary.LittleEndian, &hdrLen); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if hdrLen > maxHeaderLen {
		return nil, fmt.Errorf("header length %d exceeds limit %d", hdrLen, maxHeaderLen)
	}
	raw := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var hdr header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if hdr.DType != "float64" {
		return nil, fmt.Errorf("unsupported dtype %q", hdr.DType)
	}

	mm, err := distmap.FromSpecs(hdr.DimSpecs)
	if err != nil {
		return nil, fmt.Errorf("invalid dim specs: %w", err)
	}
	data := make([]float64, mm.LocalSize())
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("read payload of %d elements: %w", len(data), err)
	}

	var extra [1]byte
	if _, err := io.ReadFull(r, extra[:]); err != io.EOF {
		return nil, fmt.Errorf("payload of %d elements: %w", len(data), ErrTrailingData)
	}
	return localarray.FromData(hdr.DimSpecs, data)
}
