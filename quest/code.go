package quest

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet leaves out 0/O and 1/I so printed codes can be read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const defaultCodeLength = 6

// NewActivationCode returns a random code of n characters.
func NewActivationCode(n int) (string, error) {
	if n <= 0 {
		n = defaultCodeLength
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		// 256 is a multiple of len(codeAlphabet), so the modulo is unbiased.
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
