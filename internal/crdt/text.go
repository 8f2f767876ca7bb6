package crdt

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ValidateText rejects strings a snapshot cannot store byte for byte.
// Snapshots are canonical JSON, which requires valid UTF-8 and rewrites
// text into NFC, so only NFC strings survive a checkpoint unchanged.
func ValidateText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s: invalid UTF-8", field)
	}
	if !norm.NFC.IsNormalString(s) {
		return fmt.Errorf("%s: not in NFC form", field)
	}
	return nil
}
