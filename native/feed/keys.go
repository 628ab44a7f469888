package feed

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

func aggregatorPrefix(addr common.Address) []byte {
	return append([]byte("feed/aggregator/"), addr.Bytes()...)
}

func latestRoundKey(addr common.Address) []byte {
	return append(aggregatorPrefix(addr), []byte("/latest")...)
}

func roundKey(addr common.Address, id uint64) []byte {
	key := append(aggregatorPrefix(addr), []byte("/round/")...)
	return strconv.AppendUint(key, id, 10)
}

func dataFeedConfigKey(addr common.Address) []byte {
	return append(append([]byte("feed/data/"), addr.Bytes()...), []byte("/config")...)
}

func lastFetchKey(addr common.Address) []byte {
	return append(append([]byte("feed/data/"), addr.Bytes()...), []byte("/last")...)
}
