package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"
)

// Topic of PredictionSubmitted(uint256 indexed predictionId, string ipfsHash,
// address submittedBy, uint8 confidenceScore).
var topicPredictionSubmitted = common.HexToHash(eventTopic("PredictionSubmitted", "uint256", "string", "address", "uint8"))

func eventTopic(name string, args ...string) string {
	for i, t := range args {
		args[i] = strings.ReplaceAll(strings.TrimSpace(t), " ", "")
	}
	return keccakHex(fmt.Sprintf("%s(%s)", strings.TrimSpace(name), strings.Join(args, ",")))
}

func keccakHex(sig string) string {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(sig))
	return "0x" + hex.EncodeToString(hasher.Sum(nil))
}

// RecordIDFromLogs finds the PredictionSubmitted event emitted by contract and
// returns its record id. ok is false when the receipt carries no such event.
func RecordIDFromLogs(contract common.Address, logs []*types.Log) (id uint64, ok bool) {
	for _, lg := range logs {
		if lg == nil || lg.Address != contract || len(lg.Topics) < 2 {
			continue
		}
		if lg.Topics[0] != topicPredictionSubmitted {
			continue
		}
		v := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if !v.IsUint64() {
			continue
		}
		return v.Uint64(), true
	}
	return 0, false
}
