package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes data with legacy Keccak-256 (the Ethereum variant).
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// ConditionID derives the on-chain condition identifier for a market the
// conditional-token way: keccak256(oracle || questionId || outcomeSlotCount).
// Binary markets always use two outcome slots.
func ConditionID(oracle common.Address, questionID common.Hash, outcomeSlots uint32) common.Hash {
	var slots [32]byte
	binary.BigEndian.PutUint32(slots[28:], outcomeSlots)
	return common.BytesToHash(Keccak256(oracle.Bytes(), questionID.Bytes(), slots[:]))
}

// QuestionID condenses a free-form market question to a 32-byte identifier.
func QuestionID(question string) common.Hash {
	return common.BytesToHash(Keccak256([]byte(question)))
}
