// Package diary binds the confidential life diary contract: entries carry an
// encrypted mood score that only the author can read back.
package diary

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
)

const contractABI = `[
 {"type":"function","name":"mintLifeEvent","stateMutability":"nonpayable",
  "inputs":[{"name":"title","type":"string"},{"name":"description","type":"string"},{"name":"imageURI","type":"string"},
            {"name":"category","type":"string"},{"name":"isPublic","type":"bool"},{"name":"moodExternal","type":"bytes32"},{"name":"proof","type":"bytes"}],
  "outputs":[{"name":"tokenId","type":"uint256"}]},
 {"type":"function","name":"toggleVisibility","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenId","type":"uint256"},{"name":"isPublic","type":"bool"}],"outputs":[]},
 {"type":"function","name":"getMyEventIds","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"getMoodHandle","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
 {"type":"function","name":"getEvent","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"}],
  "outputs":[{"name":"","type":"tuple","components":[{"name":"title","type":"string"},{"name":"description","type":"string"},
            {"name":"imageURI","type":"string"},{"name":"category","type":"string"},{"name":"timestamp","type":"uint256"},{"name":"isPublic","type":"bool"}]}]},
 {"type":"function","name":"getPublicFeed","stateMutability":"view",
  "inputs":[{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"like","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenId","type":"uint256"},{"name":"doLike","type":"bool"}],"outputs":[]},
 {"type":"function","name":"hasLiked","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"},{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"likeCounts","stateMutability":"view",
  "inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// ABI is the parsed contract interface
var ABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		panic(err)
	}
	return parsed
}

var addresses = map[uint64]common.Address{
	31337:    common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	11155111: common.HexToAddress("0x70f3789a61Acf802aB97C5cf4B45Df5bEA671Eba"),
}

// AddressFor returns the deployment on chainID
func AddressFor(chainID uint64) (common.Address, bool) {
	addr, ok := addresses[chainID]
	return addr, ok
}

// LifeEvent is the public part of a diary entry
type LifeEvent struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ImageURI    string   `json:"imageURI"`
	Category    string   `json:"category"`
	Timestamp   *big.Int `json:"timestamp"`
	IsPublic    bool     `json:"isPublic"`
}

// Entry is a new diary entry; its mood is supplied encrypted
type Entry struct {
	Title       string
	Description string
	ImageURI    string
	Category    string
	IsPublic    bool
}

// Diary talks to one deployment over a connection
type Diary struct {
	conn    ports.Connection
	address common.Address
}

// New binds the deployment at address
func New(conn ports.Connection, address common.Address) *Diary {
	return &Diary{conn: conn, address: address}
}

// Address returns the contract address
func (d *Diary) Address() common.Address {
	return d.address
}

// Mint submits an entry whose mood is the first handle of mood
func (d *Diary) Mint(ctx context.Context, from common.Address, e Entry, mood *core.EncryptedInput) (common.Hash, error) {
	if mood == nil || len(mood.Handles) == 0 {
		return common.Hash{}, errors.New("missing encrypted mood")
	}
	return d.transact(ctx, from, "mintLifeEvent",
		e.Title, e.Description, e.ImageURI, e.Category, e.IsPublic,
		[32]byte(mood.Handles[0]), []byte(mood.Proof),
	)
}

// SetVisibility toggles whether an entry shows in the public feed
func (d *Diary) SetVisibility(ctx context.Context, from common.Address, tokenID *big.Int, public bool) (common.Hash, error) {
	return d.transact(ctx, from, "toggleVisibility", tokenID, public)
}

// Like likes or unlikes an entry
func (d *Diary) Like(ctx context.Context, from common.Address, tokenID *big.Int, like bool) (common.Hash, error) {
	return d.transact(ctx, from, "like", tokenID, like)
}

// MoodHandle returns the encrypted mood of an entry. Only the author may call it.
func (d *Diary) MoodHandle(ctx context.Context, from common.Address, tokenID *big.Int) (core.Handle, error) {
	out, err := d.call(ctx, from, "getMoodHandle", tokenID)
	if err != nil {
		return core.Handle{}, err
	}
	return core.Handle(out[0].([32]byte)), nil
}

// Event returns the public fields of an entry
func (d *Diary) Event(ctx context.Context, tokenID *big.Int) (*LifeEvent, error) {
	out, err := d.call(ctx, common.Address{}, "getEvent", tokenID)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(LifeEvent)).(*LifeEvent), nil
}

// MyEventIDs returns the entries authored by from
func (d *Diary) MyEventIDs(ctx context.Context, from common.Address) ([]*big.Int, error) {
	out, err := d.call(ctx, from, "getMyEventIds")
	if err != nil {
		return nil, err
	}
	return out[0].([]*big.Int), nil
}

// PublicFeed pages through public entry ids
func (d *Diary) PublicFeed(ctx context.Context, offset, limit uint64) ([]*big.Int, error) {
	out, err := d.call(ctx, common.Address{}, "getPublicFeed", new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	return out[0].([]*big.Int), nil
}

// HasLiked reports whether user liked an entry
func (d *Diary) HasLiked(ctx context.Context, tokenID *big.Int, user common.Address) (bool, error) {
	out, err := d.call(ctx, common.Address{}, "hasLiked", tokenID, user)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// LikeCount returns the number of likes of an entry
func (d *Diary) LikeCount(ctx context.Context, tokenID *big.Int) (*big.Int, error) {
	out, err := d.call(ctx, common.Address{}, "likeCounts", tokenID)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

type txArgs struct {
	From *common.Address `json:"from,omitempty"`
	To   common.Address  `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

func (d *Diary) call(ctx context.Context, from common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	tx := txArgs{To: d.address, Data: data}
	if from != (common.Address{}) {
		tx.From = &from
	}
	var res hexutil.Bytes
	if err := d.conn.Call(ctx, &res, "eth_call", tx, "latest"); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	out, err := ABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned nothing", method)
	}
	return out, nil
}

func (d *Diary) transact(ctx context.Context, from common.Address, method string, args ...interface{}) (common.Hash, error) {
	data, err := ABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	var hash common.Hash
	if err := d.conn.Call(ctx, &hash, "eth_sendTransaction", txArgs{From: &from, To: d.address, Data: data}); err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", method, err)
	}
	return hash, nil
}
