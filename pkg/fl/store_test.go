package fl_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelStore(t *testing.T) {
	dir := t.TempDir()
	store, err := fl.NewModelStore(filepath.Join(dir, "models"))
	require.NoError(t, err)

	_, err = store.LatestModel()
	assert.ErrorIs(t, err, fl.ErrModelNotFound)

	for round := 1; round <= 3; round++ {
		err := store.SaveModel(fl.GlobalModel{
			Round:     round,
			Params:    fl.Params{"w": {float64(round)}},
			UpdatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models", "notes.txt"), []byte("x"), 0o644))

	rounds, err := store.ListModels()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, rounds)

	latest, err := store.LatestModel()
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Round)
	assert.Equal(t, []float64{3}, latest.Params["w"])

	m, err := store.LoadModel(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, m.Params["w"])

	_, err = store.LoadModel(9)
	assert.ErrorIs(t, err, fl.ErrModelNotFound)
}

func TestLoadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"w":[0.5,0.5],"b":[0]}`), 0o644))

	params, err := fl.LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, fl.Params{"w": {0.5, 0.5}, "b": {0}}, params)

	_, err = fl.LoadParams(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
