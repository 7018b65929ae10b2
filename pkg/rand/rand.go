package rand

import (
	"crypto/rand"

	"github.com/sirupsen/logrus"
)

const (
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	lowercase    = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// String returns n random alphanumeric characters, suitable for keys and tokens.
func String(n int) string {
	return secureRandomString(alphanumeric, n)
}

// Lowercase returns n random characters from [0-9a-z].
func Lowercase(n int) string {
	return secureRandomString(lowercase, n)
}

// secureRandomString draws length characters uniformly from charset using crypto/rand.
// Bytes are masked to the smallest covering power of two and out-of-range values are
// rejected, so no character is favoured. charset must be ASCII, 1 to 256 bytes long.
func secureRandomString(charset string, length int) string {
	n := len(charset)
	if n == 0 || n > 256 {
		panic("charset length must be between 1 and 256")
	}
	if length <= 0 {
		return ""
	}

	var mask byte
	for bits := n - 1; bits != 0; bits >>= 1 {
		mask = mask<<1 | 1
	}

	bufferSize := length + length/3 + 1
	result := make([]byte, 0, length)
	for len(result) < length {
		for _, b := range secureRandomBytes(bufferSize) {
			if idx := int(b & mask); idx < n {
				result = append(result, charset[idx])
				if len(result) == length {
					break
				}
			}
		}
	}

	return string(result)
}

func secureRandomBytes(length int) []byte {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		logrus.Fatal("Unable to generate random bytes")
	}
	return randomBytes
}
