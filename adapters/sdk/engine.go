package sdk

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Exports the SDK module must provide. Buffers cross the boundary as
// (ptr, len) pairs; results come back packed as ptr<<32 | len, zero on error.
const (
	exportAlloc       = "fhe_alloc"
	exportFree        = "fhe_free"
	exportInit        = "fhe_init"
	exportKeygen      = "fhe_keygen"
	exportEncrypt     = "fhe_encrypt"
	exportReconstruct = "fhe_reconstruct"
	exportLastError   = "fhe_last_error"
)

var requiredExports = []string{
	exportAlloc, exportFree, exportInit, exportKeygen,
	exportEncrypt, exportReconstruct, exportLastError,
}

// WasmEngine runs the SDK's cryptographic core inside wazero
type WasmEngine struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	fns     map[string]api.Function
}

var _ ports.Engine = (*WasmEngine)(nil)

// NewWasmEngine compiles and instantiates code, then runs its init export
func NewWasmEngine(ctx context.Context, code []byte) (ports.Engine, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to compile SDK module: %w", err)
	}

	cfg := wazero.NewModuleConfig().
		WithName("fhe-sdk").
		WithStartFunctions("_initialize").
		WithRandSource(rand.Reader)
	mod, err := r.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate SDK module: %w", err)
	}

	e := &WasmEngine{runtime: r, module: mod, fns: make(map[string]api.Function, len(requiredExports))}
	for _, name := range requiredExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			_ = r.Close(ctx)
			return nil, fmt.Errorf("SDK module does not export %s", name)
		}
		e.fns[name] = fn
	}
	if mod.Memory() == nil {
		_ = r.Close(ctx)
		return nil, errors.New("SDK module does not export memory")
	}

	res, err := e.fns[exportInit].Call(ctx)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("%s: %w", exportInit, err)
	}
	if len(res) == 0 || api.DecodeI32(res[0]) != 0 {
		msg := e.lastError(ctx)
		_ = r.Close(ctx)
		return nil, fmt.Errorf("%s failed: %s", exportInit, msg)
	}
	return e, nil
}

// Close releases the runtime
func (e *WasmEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

type keygenOutput struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// GenerateKeypair produces a transport keypair for user decryption
func (e *WasmEngine) GenerateKeypair() (core.Keypair, error) {
	out, err := e.invoke(context.Background(), exportKeygen, []byte("{}"))
	if err != nil {
		return core.Keypair{}, err
	}
	var kp keygenOutput
	if err := json.Unmarshal(out, &kp); err != nil {
		return core.Keypair{}, fmt.Errorf("invalid keygen output: %w", err)
	}
	return core.Keypair{PublicKey: kp.PublicKey, PrivateKey: kp.PrivateKey}, nil
}

type encryptValue struct {
	Value uint64 `json:"value"`
	Bits  int    `json:"bits"`
}

type encryptInput struct {
	PublicKey []byte         `json:"publicKey"`
	CRS       []byte         `json:"crs"`
	Aux       []byte         `json:"aux"`
	Values    []encryptValue `json:"values"`
}

type encryptOutput struct {
	Ciphertext []byte `json:"ciphertext"`
}

// EncryptList encrypts fields into a proven compact ciphertext list
func (e *WasmEngine) EncryptList(ctx context.Context, publicKey, crs, aux []byte, fields []core.Field) ([]byte, error) {
	in := encryptInput{PublicKey: publicKey, CRS: crs, Aux: aux, Values: make([]encryptValue, len(fields))}
	for i, f := range fields {
		in.Values[i] = encryptValue{Value: f.Value, Bits: int(f.Width)}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	raw, err := e.invoke(ctx, exportEncrypt, payload)
	if err != nil {
		return nil, err
	}
	var out encryptOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid encrypt output: %w", err)
	}
	return out.Ciphertext, nil
}

type reconstructInput struct {
	PublicKey  string        `json:"publicKey"`
	PrivateKey string        `json:"privateKey"`
	Handles    []core.Handle `json:"handles"`
	Shares     [][]byte      `json:"shares"`
}

type reconstructOutput struct {
	Values []uint64 `json:"values"`
}

// Reconstruct combines KMS shares into cleartexts, one per handle
func (e *WasmEngine) Reconstruct(ctx context.Context, kp core.Keypair, handles []core.Handle, shares [][]byte) ([]uint64, error) {
	payload, err := json.Marshal(reconstructInput{
		PublicKey:  kp.PublicKey,
		PrivateKey: kp.PrivateKey,
		Handles:    handles,
		Shares:     shares,
	})
	if err != nil {
		return nil, err
	}
	raw, err := e.invoke(ctx, exportReconstruct, payload)
	if err != nil {
		return nil, err
	}
	var out reconstructOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid reconstruct output: %w", err)
	}
	return out.Values, nil
}

// invoke copies input into guest memory, calls name and copies the result out.
// The module is single threaded, so calls are serialized.
func (e *WasmEngine) invoke(ctx context.Context, name string, input []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	size := uint64(len(input))
	res, err := e.fns[exportAlloc].Call(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", exportAlloc, err)
	}
	ptr := res[0]
	defer func() { _, _ = e.fns[exportFree].Call(ctx, ptr, size) }()

	if !e.module.Memory().Write(uint32(ptr), input) {
		return nil, fmt.Errorf("input of %d bytes out of guest memory range", len(input))
	}

	res, err = e.fns[name].Call(ctx, ptr, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if res[0] == 0 {
		return nil, fmt.Errorf("%s failed: %s", name, e.lastError(ctx))
	}
	return e.take(ctx, res[0])
}

// take copies a packed result out of guest memory and frees it
func (e *WasmEngine) take(ctx context.Context, packed uint64) ([]byte, error) {
	ptr, size := uint32(packed>>32), uint32(packed)
	buf, ok := e.module.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("result of %d bytes out of guest memory range", size)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	_, _ = e.fns[exportFree].Call(ctx, uint64(ptr), uint64(size))
	return out, nil
}

func (e *WasmEngine) lastError(ctx context.Context) string {
	fn := e.fns[exportLastError]
	if fn == nil {
		return "unknown error"
	}
	res, err := fn.Call(ctx)
	if err != nil || len(res) == 0 || res[0] == 0 {
		return "unknown error"
	}
	msg, err := e.take(ctx, res[0])
	if err != nil {
		return "unknown error"
	}
	return string(msg)
}
