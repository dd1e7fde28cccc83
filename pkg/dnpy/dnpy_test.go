package dnpy

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dacompute/distarray/pkg/distmap"
	"github.com/dacompute/distarray/pkg/localarray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testShard(t *testing.T) *localarray.LocalArray {
	t.Helper()
	la, err := localarray.New([]distmap.DimSpec{
		{DistType: distmap.DistBlock, Size: 8, GridSize: 2, GridRank: 0, Start: 0, Stop: 4},
		{DistType: distmap.DistNone, Size: 3},
	})
	require.NoError(t, err)
	la.Apply(func(global []int) float64 {
		return float64(global[0]*100 + global[1])
	})
	return la
}

func TestSaveLoadRoundTrip(t *testing.T) {
	la := testShard(t)
	path := filepath.Join(t.TempDir(), Filename("testarr", 0))

	require.NoError(t, Save(path, la))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, la.Specs(), loaded.Specs())
	assert.Equal(t, la.Data(), loaded.Data())
	assert.Equal(t, la.LocalShape(), loaded.LocalShape())
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "weights_3.dnpy", Filename("weights", 3))
}

func TestLoadBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.dnpy")
	require.NoError(t, os.WriteFile(path, []byte("\x93NUMPY rest of file"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoadBadVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testShard(t)))

	raw := buf.Bytes()
	raw[len(magic)] = 99 // corrupt the major version

	_, err := Read(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrVersion)
}

func TestLoadTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testShard(t)))

	raw := buf.Bytes()
	_, err := Read(bytes.NewReader(raw[:len(raw)-8]))
	assert.Error(t, err)
}

func TestLoadTrailingData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testShard(t)))
	buf.Write([]byte{0, 0, 0, 0})

	_, err := Read(bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestLoadOversizedHeaderLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testShard(t)))

	raw := buf.Bytes()
	// The header length field sits after the magic and version bytes.
	off := len(magic) + 2
	raw[off] = 0xff
	raw[off+1] = 0xff
	raw[off+2] = 0xff
	raw[off+3] = 0xff

	_, err := Read(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header length")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.dnpy"))
	assert.Error(t, err)
}
