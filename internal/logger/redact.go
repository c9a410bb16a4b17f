package logger

import (
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
)

const redactedPlaceholder = "[redacted]"

var (
	// blobPattern matches base58/base64 runs long enough to be a key,
	// signature, or envelope fragment. A 32-byte value is at least 43
	// characters in either alphabet.
	blobPattern = regexp.MustCompile(`[0-9A-Za-z+/=]{43,}`)

	// bytesPattern matches printed numeric arrays of the sizes secrets
	// come in (32-byte seeds and public keys, 64-byte secret keys).
	bytesPattern = regexp.MustCompile(`\[(?:\d{1,3}[ ,]+){31,63}\d{1,3}\]`)

	// mnemonicPattern matches runs of 12 or more lowercase words, the
	// shape of a BIP-39 phrase.
	mnemonicPattern = regexp.MustCompile(`(?:\b[a-z]{3,8}\b[ ]+){11,23}\b[a-z]{3,8}\b`)
)

// RedactionHook rewrites entry messages and field values that look like
// secret material before any formatter sees them.
type RedactionHook struct{}

// NewRedactionHook creates the hook.
func NewRedactionHook() *RedactionHook { return &RedactionHook{} }

// Levels implements logrus.Hook for all levels.
func (h *RedactionHook) Levels() []logrus.Level { return logrus.AllLevels }

// Fire implements logrus.Hook.
func (h *RedactionHook) Fire(entry *logrus.Entry) error {
	entry.Message = Redact(entry.Message)
	for key, value := range entry.Data {
		switch v := value.(type) {
		case string:
			entry.Data[key] = Redact(v)
		case []byte:
			entry.Data[key] = redactedPlaceholder
		case error:
			entry.Data[key] = fmt.Errorf("%s", Redact(v.Error()))
		case fmt.Stringer:
			entry.Data[key] = Redact(v.String())
		}
	}
	return nil
}

// Redact replaces secret-shaped substrings with a placeholder.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = bytesPattern.ReplaceAllString(s, redactedPlaceholder)
	s = blobPattern.ReplaceAllString(s, redactedPlaceholder)
	s = mnemonicPattern.ReplaceAllString(s, redactedPlaceholder)
	return s
}
