package crdt

import (
	"fmt"
	"strings"
)

// Position keys are fractional indexes over a base-36 alphabet whose byte
// order matches digit order. Tasks are listed by (key, task id), so two
// replicas that pick the same key for concurrent inserts still agree on
// the order.
//
// Keys produced here start with an integer head: one digit holding the
// head width w, then w digits. Appending increments the head, so key
// length grows with the logarithm of the number of appends. Keys from
// peers may use any layout; KeyAfter still returns something larger.
const (
	keyDigits = "0123456789abcdefghijklmnopqrstuvwxyz"
	keyBase   = len(keyDigits)

	// maxHeadWidth is the widest head whose width fits in one digit.
	maxHeadWidth = keyBase - 1
)

// KeyAfter returns a key that sorts strictly after prev. An empty prev
// means "start of list".
func KeyAfter(prev string) string {
	if prev == "" {
		return encodeHead(1, 1)
	}
	if head, ok := parseHead(prev); ok {
		if next, ok := incrementHead(head); ok {
			return next
		}
	}
	// prev has no head, or its head is at the top of the widest width.
	// A head whose width digit is larger than prev's first byte sorts after it.
	if w := strings.IndexByte(keyDigits, prev[0]) + 1; w > 0 && w <= maxHeadWidth {
		return encodeHead(w, 0)
	}
	return prev + keyDigits[1:2]
}

// SpacedKeys returns n strictly increasing keys of equal width. Appends
// after the last key continue the same head sequence.
func SpacedKeys(n int) []string {
	if n <= 0 {
		return nil
	}
	width := 1
	for space := keyBase; space <= n && width < maxHeadWidth; space *= keyBase {
		width++
	}
	keys := make([]string, n)
	for i := range keys {
		keys[i] = encodeHead(width, i+1)
	}
	return keys
}

// encodeHead renders v as a head of the given width.
func encodeHead(width, v int) string {
	buf := make([]byte, width+1)
	buf[0] = keyDigits[width]
	for j := width; j >= 1; j-- {
		buf[j] = keyDigits[v%keyBase]
		v /= keyBase
	}
	return string(buf)
}

// parseHead returns the head prefix of key, if key has one.
func parseHead(key string) (string, bool) {
	w := strings.IndexByte(keyDigits, key[0])
	if w < 1 || len(key) < w+1 {
		return "", false
	}
	return key[:w+1], true
}

// incrementHead returns the head one larger than head, widening it when
// every digit is at its maximum. It fails only past the widest width.
func incrementHead(head string) (string, bool) {
	buf := []byte(head)
	for j := len(buf) - 1; j >= 1; j-- {
		d := strings.IndexByte(keyDigits, buf[j])
		if d < keyBase-1 {
			buf[j] = keyDigits[d+1]
			return string(buf), true
		}
		buf[j] = keyDigits[0]
	}
	w := len(head) - 1
	if w+1 > maxHeadWidth {
		return "", false
	}
	return keyDigits[w+1:w+2] + keyDigits[1:2] + strings.Repeat(keyDigits[:1], w), true
}

// ValidateKey rejects keys outside the position alphabet.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty position key")
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(keyDigits, key[i]) < 0 {
			return fmt.Errorf("position key %q: invalid character %q", key, key[i])
		}
	}
	return nil
}
