package util

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Code pages accepted by the conversion helpers. CP_ACP and CP_OEMCP map to
// the usual Western defaults, 1252 and 437.
const (
	CP_ACP   = 0
	CP_OEMCP = 1
	CP_UTF8  = 65001
)

var (
	ErrInsufficientBuffer  = errors.New("insufficient buffer")
	ErrUnsupportedCodePage = errors.New("unsupported code page")
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

var codePages = map[uint32]encoding.Encoding{
	CP_ACP:   charmap.Windows1252,
	CP_OEMCP: charmap.CodePage437,
	437:      charmap.CodePage437,
	850:      charmap.CodePage850,
	866:      charmap.CodePage866,
	1250:     charmap.Windows1250,
	1251:     charmap.Windows1251,
	1252:     charmap.Windows1252,
	1253:     charmap.Windows1253,
	1254:     charmap.Windows1254,
	1255:     charmap.Windows1255,
	1256:     charmap.Windows1256,
	1257:     charmap.Windows1257,
	1258:     charmap.Windows1258,
	28591:    charmap.ISO8859_1,
	28605:    charmap.ISO8859_15,
	CP_UTF8:  unicode.UTF8,
}

func codePage(cp uint32) (encoding.Encoding, error) {
	enc, ok := codePages[cp]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedCodePage, "code page %d", cp)
	}
	return enc, nil
}

// ConvertFromUnicode converts the UTF-16 code units in ws to codePage.
// Characters the code page cannot represent become '?'. A NUL code unit is
// converted like any other, so a terminated input gives a terminated output.
//
// With a nil dst the result is freshly allocated. Otherwise the result is
// written to the front of dst and ErrInsufficientBuffer is returned when it
// does not fit; the returned slice then aliases dst.
func ConvertFromUnicode(cp uint32, ws []uint16, dst []byte) ([]byte, error) {
	enc, err := codePage(cp)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 2*len(ws))
	for i, c := range ws {
		binary.LittleEndian.PutUint16(raw[2*i:], c)
	}
	utf8, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decoding utf-16")
	}
	out := encodeLossy(enc.NewEncoder(), utf8)
	if dst == nil {
		return out, nil
	}
	if len(out) > len(dst) {
		return nil, errors.Wrapf(ErrInsufficientBuffer, "need %d bytes, have %d", len(out), len(dst))
	}
	return dst[:copy(dst, out)], nil
}

// encodeLossy encodes utf8 with e, turning each rune that e cannot
// represent into '?'.
func encodeLossy(e *encoding.Encoder, utf8 []byte) []byte {
	if out, err := e.Bytes(utf8); err == nil {
		return out
	}
	out := make([]byte, 0, len(utf8))
	for _, r := range string(utf8) {
		b, err := e.Bytes([]byte(string(r)))
		if err != nil {
			b = []byte{'?'}
		}
		out = append(out, b...)
	}
	return out
}

// ConvertToUnicode converts s from codePage to UTF-16 code units. Buffer
// handling matches ConvertFromUnicode.
func ConvertToUnicode(cp uint32, s []byte, dst []uint16) ([]uint16, error) {
	enc, err := codePage(cp)
	if err != nil {
		return nil, err
	}
	utf8, err := enc.NewDecoder().Bytes(s)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding code page %d", cp)
	}
	raw, err := utf16le.NewEncoder().Bytes(utf8)
	if err != nil {
		return nil, errors.Wrap(err, "encoding utf-16")
	}
	n := len(raw) / 2
	if dst == nil {
		dst = make([]uint16, n)
	} else if n > len(dst) {
		return nil, errors.Wrapf(ErrInsufficientBuffer, "need %d code units, have %d", n, len(dst))
	}
	for i := 0; i < n; i++ {
		dst[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return dst[:n], nil
}

// ToWide converts a UTF-8 Go string to a NUL-terminated UTF-16 buffer.
func ToWide(s string) ([]uint16, error) {
	return ConvertToUnicode(CP_UTF8, append([]byte(s), 0), nil)
}

// FromWide converts UTF-16 code units to a UTF-8 Go string.
func FromWide(ws []uint16) (string, error) {
	b, err := ConvertFromUnicode(CP_UTF8, ws, nil)
	return string(b), err
}
