package vault

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

func vaultKey(vault common.Address, suffix string) []byte {
	key := append([]byte("vault/"), vault.Bytes()...)
	return append(key, suffix...)
}

func vaultAccountKey(vault common.Address, suffix string, account common.Address) []byte {
	return append(vaultKey(vault, suffix), account.Bytes()...)
}

func initializedKey(vault common.Address) []byte { return vaultKey(vault, "/initialized") }
func tokenListKey(vault common.Address) []byte   { return vaultKey(vault, "/tokens") }
func pausedKey(vault common.Address) []byte      { return vaultKey(vault, "/paused") }
func greenlistKey(vault common.Address) []byte   { return vaultKey(vault, "/greenlist") }
func instantFeeKey(vault common.Address) []byte  { return vaultKey(vault, "/instant/fee") }
func instantLimitKey(vault common.Address) []byte {
	return vaultKey(vault, "/instant/limit")
}
func minAmountKey(vault common.Address) []byte      { return vaultKey(vault, "/min") }
func requestCounterKey(vault common.Address) []byte { return vaultKey(vault, "/requests/counter") }
func pendingListKey(vault common.Address) []byte    { return vaultKey(vault, "/requests/pending") }

func tokenConfigKey(vault, token common.Address) []byte {
	return vaultAccountKey(vault, "/token/", token)
}

func waivedKey(vault, account common.Address) []byte {
	return vaultAccountKey(vault, "/waived/", account)
}

func freeFromMinKey(vault, account common.Address) []byte {
	return vaultAccountKey(vault, "/freeFromMin/", account)
}

func totalKey(vault, account common.Address) []byte {
	return vaultAccountKey(vault, "/total/", account)
}

func requestKey(vault common.Address, id uint64) []byte {
	return strconv.AppendUint(vaultKey(vault, "/request/"), id, 10)
}

func dailyUsageKey(vault common.Address, day uint64) []byte {
	return strconv.AppendUint(vaultKey(vault, "/instant/day/"), day, 10)
}

func buidlParamKey(vault common.Address, name string) []byte {
	return vaultKey(vault, "/buidl/"+name)
}

func encodeID(id uint64) []byte {
	return strconv.AppendUint(nil, id, 10)
}
