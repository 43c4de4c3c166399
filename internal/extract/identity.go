package extract

import (
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
)

var (
	identifierColumns = []string{"id", "sku", "product id", "product_id", "item id", "code"}
	nameColumns       = []string{"name", "product", "product name", "title"}
)

// canonical marshals maps with sorted keys.
var canonical = json.ConfigCompatibleWithStandardLibrary

// IdentityKey decides whether two rows describe the same record. It prefers a
// natural identifier column, then a name-like column, and falls back to the
// canonical serialization of the whole row.
func IdentityKey(row schemas.Row) string {
	if v, ok := lookupFold(row, identifierColumns); ok {
		return "id:" + v
	}
	if v, ok := lookupFold(row, nameColumns); ok {
		return "name:" + v
	}
	b, err := canonical.Marshal(row.Map())
	if err != nil {
		// map[string]string always encodes.
		return "row:" + strings.Join(row.Keys(), "\x00")
	}
	return "row:" + string(b)
}

// lookupFold returns the first non-empty value whose column matches one of
// names case-insensitively, honoring the order of names.
func lookupFold(row schemas.Row, names []string) (string, bool) {
	keys := row.Keys()
	for _, want := range names {
		for _, k := range keys {
			if !strings.EqualFold(strings.TrimSpace(k), want) {
				continue
			}
			if v, _ := row.Get(k); strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
	}
	return "", false
}
