package decoder

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// valueString renders a decoded ABI value as the string stored in the sink.
// Addresses become lowercased hex, byte blobs 0x-hex, integers base-10, and
// composite values JSON arrays of their element strings.
func valueString(value interface{}) string {
	switch typed := value.(type) {
	case common.Address:
		return strings.ToLower(typed.Hex())
	case common.Hash:
		return typed.Hex()
	case *big.Int:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	case string:
		return typed
	case []byte:
		return hexutil.Encode(typed)
	case int8:
		return strconv.FormatInt(int64(typed), 10)
	case int16:
		return strconv.FormatInt(int64(typed), 10)
	case int32:
		return strconv.FormatInt(int64(typed), 10)
	case int64:
		return strconv.FormatInt(typed, 10)
	case uint8:
		return strconv.FormatUint(uint64(typed), 10)
	case uint16:
		return strconv.FormatUint(uint64(typed), 10)
	case uint32:
		return strconv.FormatUint(uint64(typed), 10)
	case uint64:
		return strconv.FormatUint(typed, 10)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(buf), rv)
			return hexutil.Encode(buf)
		}
		fallthrough
	case reflect.Slice:
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, valueString(rv.Index(i).Interface()))
		}
		encoded, err := json.Marshal(parts)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	}
}
