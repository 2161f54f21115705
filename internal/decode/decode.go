// Package decode recovers text from downloaded report documents. The remote
// system gzip-compresses some documents and not others, and labels charsets
// inconsistently per report type and locale, so decoding is a fallback ladder
// rather than a single codec.
package decode

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"

	"sellersync/internal/domain"
)

// ErrExhausted means every fallback failed. Latin-1 accepts any byte sequence,
// so in practice this only surfaces for pathological inputs; callers skip the
// unit and continue.
var ErrExhausted = errors.New("decode: all encoding fallbacks failed")

// Decode turns raw document bytes into text. Ladder, first success wins:
// gunzip then charset ladder on the decompressed bytes; otherwise the charset
// ladder on the raw bytes. The charset ladder is UTF-8, then Shift-JIS/CP932,
// then Latin-1 (total: every byte sequence is valid Latin-1).
func Decode(raw []byte) (domain.Payload, error) {
	if decompressed, ok := gunzip(raw); ok {
		text, encoding, ok := decodeCharset(decompressed)
		if ok {
			return domain.Payload{Encoding: encoding, Compressed: true, Text: text}, nil
		}
		return domain.Payload{}, ErrExhausted
	}

	text, encoding, ok := decodeCharset(raw)
	if !ok {
		return domain.Payload{}, ErrExhausted
	}
	return domain.Payload{Encoding: encoding, Compressed: false, Text: text}, nil
}

func gunzip(raw []byte) ([]byte, bool) {
	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	defer reader.Close()
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, false
	}
	return decompressed, true
}

func decodeCharset(data []byte) (string, domain.Encoding, bool) {
	if utf8.Valid(data) {
		return string(data), domain.EncodingUTF8, true
	}
	// The x/text Shift-JIS table is the CP932 superset used by the source
	// locale, so one attempt covers both labels.
	if text, ok := decodeShiftJIS(data); ok {
		return text, domain.EncodingShiftJIS, true
	}
	if text, ok := decodeLatin1(data); ok {
		return text, domain.EncodingLatin1, true
	}
	return "", "", false
}

func decodeShiftJIS(data []byte) (string, bool) {
	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	// The decoder substitutes U+FFFD for byte sequences outside the table;
	// treat any substitution as a failed attempt so the ladder moves on.
	text := string(decoded)
	if strings.ContainsRune(text, utf8.RuneError) {
		return "", false
	}
	return text, true
}

func decodeLatin1(data []byte) (string, bool) {
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}
