package cos

import (
	"errors"
	"io"
)

// Plural returns "s" unless n == 1, for simple message pluralization.
func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func StringInSlice(s string, l []string) bool {
	for _, e := range l {
		if e == s {
			return true
		}
	}
	return false
}
