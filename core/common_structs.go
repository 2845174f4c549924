package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// ContractHash is the 32-byte identifier of a deployed contract, derived at
// creation from (block_hash, tx_hash, output_index). Canonically rendered as
// lowercase hex.
type ContractHash [32]byte

func (h ContractHash) Hex() string { return hex.EncodeToString(h[:]) }

func (h ContractHash) String() string { return h.Hex() }

// Address lifts a contract hash to the Address space used for the sender
// convention on cross-contract calls.
func (h ContractHash) Address() Address { return Address(h.Hex()) }

// ParseContractHash parses a 64-character lowercase hex contract hash.
func ParseContractHash(s string) (ContractHash, error) {
	var h ContractHash
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("invalid contract hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

// DeriveContractHash computes the identity of a contract deployed by the
// given block, transaction and output index:
// sha256(block_hash || tx_hash || output_index_byte).
func DeriveContractHash(blockHash, txHash string, outputIndex uint8) (ContractHash, error) {
	bh, err := hex.DecodeString(blockHash)
	if err != nil {
		return ContractHash{}, fmt.Errorf("invalid block hash %q", blockHash)
	}
	th, err := hex.DecodeString(txHash)
	if err != nil {
		return ContractHash{}, fmt.Errorf("invalid tx hash %q", txHash)
	}
	pre := make([]byte, 0, len(bh)+len(th)+1)
	pre = append(pre, bh...)
	pre = append(pre, th...)
	pre = append(pre, outputIndex)
	return ContractHash(sha256.Sum256(pre)), nil
}

// Address is an opaque identifier of an external account. It is a distinct
// type from ContractHash even when a contract hash is lifted into it.
type Address string

func (a Address) String() string { return string(a) }

// TxOutput is the host-visible projection of a ledger transaction output.
type TxOutput struct {
	Address Address
	Amount  *apd.Decimal
}

// DVMTransaction is the projection of the carrying ledger transaction that
// executing contract code sees as `transaction`.
type DVMTransaction struct {
	TxHash  string
	Outputs []TxOutput
}
