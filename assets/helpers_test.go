package assets

import (
	"encoding/hex"
	"strconv"
)

func itoa(port uint16) string {
	return strconv.Itoa(int(port))
}

func hexString(b []byte) string {
	return hex.EncodeToString(b)
}
