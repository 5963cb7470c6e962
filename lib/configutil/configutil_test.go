package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
	Batch  int      `json:"batch_size"`
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "caselist.json5"), []byte(`{
		// comments and trailing commas are fine
		name: "default",
		groups: ["Harvard", "Yale"],
		batch_size: 5,
	}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "caselist.local.json5"), []byte(`{
		name: "local",
	}`), 0644))

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "caselist.json5"))
	require.NoError(t, err)
	require.Equal(t, testConfig{
		Name:   "local",
		Groups: []string{"Harvard", "Yale"},
		Batch:  5,
	}, cfg)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "caselist.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
