package leaselog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMissingFileReturnsEmpty(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "leases.json"))
	recs, err := l.All()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases.json")
	seed := file{Leases: []Record{{PubkeyURI: "02aabb@127.0.0.1:9735", TotalCapacity: 1_000_000}}}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l := New(path)
	recs, err := l.All()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "02aabb@127.0.0.1:9735", recs[0].PubkeyURI)
}
