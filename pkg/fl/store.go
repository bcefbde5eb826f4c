package fl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ModelStore exports global models as JSON files, one file per round.
type ModelStore struct {
	modelsDir string
	mu        sync.RWMutex
}

func NewModelStore(modelsDir string) (*ModelStore, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	return &ModelStore{modelsDir: modelsDir}, nil
}

func (ms *ModelStore) SaveModel(model GlobalModel) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	tmp := ms.path(model.Round) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	return os.Rename(tmp, ms.path(model.Round))
}

func (ms *ModelStore) LoadModel(round int) (GlobalModel, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return ms.load(round)
}

// LatestModel returns the model with the highest round number.
func (ms *ModelStore) LatestModel() (GlobalModel, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	rounds, err := ms.list()
	if err != nil {
		return GlobalModel{}, err
	}
	if len(rounds) == 0 {
		return GlobalModel{}, ErrModelNotFound
	}

	return ms.load(rounds[len(rounds)-1])
}

func (ms *ModelStore) ListModels() ([]int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return ms.list()
}

func (ms *ModelStore) load(round int) (GlobalModel, error) {
	data, err := os.ReadFile(ms.path(round))
	if errors.Is(err, fs.ErrNotExist) {
		return GlobalModel{}, fmt.Errorf("%w: round %d", ErrModelNotFound, round)
	}
	if err != nil {
		return GlobalModel{}, fmt.Errorf("failed to read model file: %w", err)
	}

	var model GlobalModel
	if err := json.Unmarshal(data, &model); err != nil {
		return GlobalModel{}, fmt.Errorf("failed to unmarshal model: %w", err)
	}

	return model, nil
}

func (ms *ModelStore) list() ([]int, error) {
	entries, err := os.ReadDir(ms.modelsDir)
	if err != nil {
		return nil, err
	}

	var rounds []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var round int
		if _, err := fmt.Sscanf(entry.Name(), "model_v%d.json", &round); err == nil &&
			entry.Name() == fmt.Sprintf("model_v%d.json", round) {
			rounds = append(rounds, round)
		}
	}
	slices.Sort(rounds)

	return rounds, nil
}

func (ms *ModelStore) path(round int) string {
	return filepath.Join(ms.modelsDir, fmt.Sprintf("model_v%d.json", round))
}

// LoadParams reads a JSON encoded parameter file, used to seed the first global model.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameters file: %w", err)
	}

	return JSONCodec{}.Decode(data)
}
