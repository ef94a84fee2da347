package source

import "encoding/hex"

// EncodeCursor renders a variant-specific cursor payload (a LSN string, a
// "file:pos" pair, an SCN decimal, ...) as the opaque hex string format
// persisted in cdc_state (spec §6: "Opaque hex strings ... 0x...").
func EncodeCursor(payload string) string {
	return "0x" + hex.EncodeToString([]byte(payload))
}

// DecodeCursor reverses EncodeCursor. Adapters must accept both the
// prefixed and unprefixed forms (spec §6), and an empty cursor decodes to
// empty (meaning "from the current position").
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	trimmed := cursor
	if len(trimmed) >= 2 && trimmed[0:2] == "0x" {
		trimmed = trimmed[2:]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
