package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	reg:<address>                    → Registry (CBOR)
//	acc:<address>                    → Account (JSON)
//	rcpt:<seq, 20 digits>            → Receipt (JSON)
//
// Receipt sequences are zero-padded so lexicographic order is commit order.
const (
	prefixRegistry = "reg:"
	prefixAccount  = "acc:"
	prefixReceipt  = "rcpt:"
)

func registryKey(addr common.Address) []byte {
	return []byte(prefixRegistry + addr.Hex())
}

func accountKey(addr common.Address) []byte {
	return []byte(prefixAccount + addr.Hex())
}

func receiptKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixReceipt, seq))
}

func parseReceiptKey(key []byte) (uint64, error) {
	s, ok := strings.CutPrefix(string(key), prefixReceipt)
	if !ok {
		return 0, fmt.Errorf("not a receipt key: %q", key)
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad receipt key %q: %w", key, err)
	}
	return seq, nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan,
// e.g. "rcpt:" → "rcpt;".
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
