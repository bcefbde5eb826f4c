package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const (
	WasmName = "wasm"

	opTrain    = "train"
	opEvaluate = "evaluate"
	guestData  = "/data"
)

var errEmptyOutput = errors.New("wasm trainer produced no output")

// Wasm runs a WASI command module per call. The module reads a JSON request
// on stdin and writes a JSON response on stdout; the local data directory is
// mounted read-only at /data.
type Wasm struct {
	mu       sync.Mutex
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	dataDir  string
	args     fl.TrainingArgs
}

type wasmRequest struct {
	Op        string          `json:"op"`
	Round     int             `json:"round,omitempty"`
	Partition int             `json:"partition"`
	Params    fl.Params       `json:"params"`
	Batches   []int           `json:"batches,omitempty"`
	Args      fl.TrainingArgs `json:"args"`
}

type wasmResponse struct {
	Params     fl.Params          `json:"params"`
	NumSamples int                `json:"num_samples"`
	Metrics    map[string]float64 `json:"metrics"`
	Error      string             `json:"error"`
}

func NewWasm(cfg Config) (Trainer, error) {
	if len(cfg.WasmBinary) == 0 {
		return nil, ErrMissingBinary
	}

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, cfg.WasmBinary)
	if err != nil {
		r.Close(ctx)

		return nil, errors.Join(errors.New("failed to compile Wasm module"), err)
	}

	return &Wasm{
		runtime:  r,
		compiled: compiled,
		dataDir:  cfg.DataDir,
		args:     cfg.Args,
	}, nil
}

func (w *Wasm) Train(ctx context.Context, global fl.Params, partition int) (fl.Params, int, error) {
	resp, err := w.call(ctx, wasmRequest{
		Op:        opTrain,
		Partition: partition,
		Params:    global,
		Args:      w.args,
	})
	if err != nil {
		return nil, 0, err
	}

	return resp.Params, resp.NumSamples, nil
}

func (w *Wasm) Evaluate(ctx context.Context, round int, params fl.Params, batches []int) (map[string]float64, error) {
	resp, err := w.call(ctx, wasmRequest{
		Op:      opEvaluate,
		Round:   round,
		Params:  params,
		Batches: batches,
		Args:    w.args,
	})
	if err != nil {
		return nil, err
	}

	return resp.Metrics, nil
}

func (w *Wasm) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

func (w *Wasm) call(ctx context.Context, req wasmRequest) (wasmResponse, error) {
	in, err := json.Marshal(req)
	if err != nil {
		return wasmResponse{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs("trainer", req.Op).
		WithStdin(bytes.NewReader(in)).
		WithStdout(&stdout).
		WithStderr(&stderr)
	if w.dataDir != "" {
		cfg = cfg.WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(w.dataDir, guestData))
	}

	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, cfg)
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			return wasmResponse{}, fmt.Errorf("wasm trainer %s failed: %w: %s", req.Op, err, stderr.String())
		}
	}
	if mod != nil {
		defer mod.Close(ctx)
	}

	if stdout.Len() == 0 {
		return wasmResponse{}, errEmptyOutput
	}

	var resp wasmResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return wasmResponse{}, fmt.Errorf("failed to decode wasm trainer output: %w", err)
	}
	if resp.Error != "" {
		return wasmResponse{}, fmt.Errorf("wasm trainer %s: %s", req.Op, resp.Error)
	}

	return resp, nil
}
