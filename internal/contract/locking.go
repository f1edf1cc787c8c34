package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lockwatch/lockwatch/internal/logger"
)

// Event names emitted by the locking contract.
const (
	EventLocked    = "Locked"
	EventUnlocked  = "Unlocked"
	EventWithdrawn = "Withdrawn"
)

const (
	maxAmountBits = 96
	maxIndexBits  = 32
)

// lockingABI describes the three events of the locking contract.
const lockingABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"address","name":"holder","type":"address"},
		{"indexed":false,"internalType":"uint96","name":"amount","type":"uint96"}],
		"name":"Locked","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"address","name":"holder","type":"address"},
		{"indexed":true,"internalType":"uint32","name":"index","type":"uint32"},
		{"indexed":false,"internalType":"uint96","name":"amount","type":"uint96"}],
		"name":"Unlocked","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"address","name":"holder","type":"address"},
		{"indexed":true,"internalType":"uint32","name":"index","type":"uint32"},
		{"indexed":false,"internalType":"uint96","name":"amount","type":"uint96"}],
		"name":"Withdrawn","type":"event"}
]`

// Event is a decoded locking-contract event.
type Event struct {
	// Name is one of Locked, Unlocked, Withdrawn
	Name string

	Holder common.Address
	Amount *big.Int

	// UnlockIndex is only meaningful for Unlocked and Withdrawn
	UnlockIndex uint32

	// Raw is the log the event was decoded from
	Raw types.Log
}

// eventDecoder attempts to decode a raw log against one ABI binding.
type eventDecoder struct {
	name    string
	abiEv   abi.Event
	indexed int // number of indexed parameters the binding expects
}

// Registry maps topic-0 hashes to ordered lists of typed decoders. One topic
// can have multiple candidate ABIs when bindings differ only in which
// parameters are indexed; decoders are tried in registration order and the
// first successful decode wins.
type Registry struct {
	decoders map[common.Hash][]eventDecoder
	topics   []common.Hash
	log      *logger.Logger
}

// NewRegistry builds the decoder registry for the locking contract events.
func NewRegistry(log *logger.Logger) (*Registry, error) {
	parsed, err := abi.JSON(strings.NewReader(lockingABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse locking contract ABI: %w", err)
	}

	r := &Registry{
		decoders: make(map[common.Hash][]eventDecoder),
		log:      log.WithComponent("event-decoder"),
	}

	for _, name := range []string{EventLocked, EventUnlocked, EventWithdrawn} {
		ev, ok := parsed.Events[name]
		if !ok {
			return nil, fmt.Errorf("event %s missing from locking contract ABI", name)
		}

		indexed := 0
		for _, input := range ev.Inputs {
			if input.Indexed {
				indexed++
			}
		}

		if _, exists := r.decoders[ev.ID]; !exists {
			r.topics = append(r.topics, ev.ID)
		}
		r.decoders[ev.ID] = append(r.decoders[ev.ID], eventDecoder{
			name:    name,
			abiEv:   ev,
			indexed: indexed,
		})
	}

	return r, nil
}

// Topics returns the topic-0 filter: the union of all known event signatures.
func (r *Registry) Topics() []common.Hash {
	out := make([]common.Hash, len(r.topics))
	copy(out, r.topics)
	return out
}

// Decode attempts each ABI bound to the log's topic-0 and returns the first
// successful decode. It returns nil when no binding matches; the caller keeps
// indexing.
func (r *Registry) Decode(lg types.Log) *Event {
	if len(lg.Topics) == 0 {
		r.log.Errorf("log without topics: tx=%s log_index=%d", lg.TxHash.Hex(), lg.Index)
		return nil
	}

	candidates, ok := r.decoders[lg.Topics[0]]
	if !ok {
		r.log.Errorf("unknown event topic %s: tx=%s log_index=%d", lg.Topics[0].Hex(), lg.TxHash.Hex(), lg.Index)
		return nil
	}

	for _, dec := range candidates {
		event, err := dec.decode(lg)
		if err != nil {
			continue
		}
		return event
	}

	r.log.Errorf("unexpected log format: tx=%s log_index=%d topic=%s",
		lg.TxHash.Hex(), lg.Index, lg.Topics[0].Hex())
	return nil
}

// decode validates the topic layout against the binding and unpacks the event.
// A topic count mismatch is a decode failure, never a partial accept.
func (d *eventDecoder) decode(lg types.Log) (*Event, error) {
	if len(lg.Topics) != d.indexed+1 {
		return nil, fmt.Errorf("event %s expects %d topics, log has %d", d.name, d.indexed+1, len(lg.Topics))
	}

	nonIndexed := d.abiEv.Inputs.NonIndexed()
	values, err := nonIndexed.Unpack(lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s data: %w", d.name, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("event %s expects one non-indexed value, got %d", d.name, len(values))
	}

	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("event %s amount has unexpected type %T", d.name, values[0])
	}
	if amount.Sign() < 0 || amount.BitLen() > maxAmountBits {
		return nil, fmt.Errorf("event %s amount out of uint96 range", d.name)
	}

	event := &Event{
		Name:   d.name,
		Holder: common.BytesToAddress(lg.Topics[1].Bytes()),
		Amount: amount,
		Raw:    lg,
	}

	if d.indexed > 1 {
		index := new(big.Int).SetBytes(lg.Topics[2].Bytes())
		if index.BitLen() > maxIndexBits {
			return nil, fmt.Errorf("event %s unlock index out of uint32 range", d.name)
		}
		event.UnlockIndex = uint32(index.Uint64())
	}

	return event, nil
}
