// Copyright (C) 2024 rico3 contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package typeguess infers the logical type of a raw column payload pulled
// out of a table-data block. The source format does not store a per-column
// type, so every value is recovered by trying a fixed sequence of
// recognizers and keeping the first one that accepts the bytes.
package typeguess

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Kind is the tag of a Value's sum type.
type Kind int

const (
	Unrecognized Kind = iota
	Null
	Date
	Timestamp
	Varchar2
	Number
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "NULL"
	case Date:
		return "DATE"
	case Timestamp:
		return "TIMESTAMP"
	case Varchar2:
		return "VARCHAR2"
	case Number:
		return "NUMBER"
	default:
		return "Unrecognized"
	}
}

// Value is the tagged result of Guess: a recovered logical type plus its
// rendered printable form. It carries no behavior beyond its two fields so
// that callers never need to branch on Kind before reading Text.
type Value struct {
	Kind Kind
	Text string
}

func unrecognized() Value { return Value{Kind: Unrecognized, Text: "NONE"} }
func null() Value         { return Value{Kind: Null, Text: "NULL"} }

// Guess infers the logical type of b and returns its rendered value. Guess
// is pure: it never mutates b and always returns the same Value for the
// same bytes.
func Guess(b []byte) Value {
	if len(b) == 0 {
		return unrecognized()
	}
	if b[0] == 0xFF {
		return null()
	}
	if v, ok := guessDate(b); ok {
		return v
	}
	if v, ok := guessTimestamp(b); ok {
		return v
	}
	if v, ok := guessVarchar2(b); ok {
		return v
	}
	if v, ok := guessNumber(b); ok {
		return v
	}
	return unrecognized()
}

// GuessHex hex-decodes s and runs Guess over the result. It exists for the
// command line's manual single-value decode mode.
func GuessHex(s string) (Value, error) {
	b, err := hexDecode(s)
	if err != nil {
		return Value{}, err
	}
	return Guess(b), nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("typeguess: odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("typeguess: invalid hex digit %q", c)
	}
}

// guessDate recognizes the 7-byte packed DATE encoding: one byte each of
// century, year, month, day, hour, minute and second. Century and year are
// stored with a +100 offset and hour, minute and second with a +1 offset;
// month and day are stored as-is.
func guessDate(b []byte) (Value, bool) {
	if len(b) != 7 {
		return Value{}, false
	}
	century := int(b[0]) - 100
	if century <= 0 {
		return Value{}, false
	}
	year := int(b[1]) - 100
	if year < 0 {
		return Value{}, false
	}
	month := int(b[2])
	day := int(b[3])
	hour := int(b[4]) - 1
	minute := int(b[5]) - 1
	second := int(b[6]) - 1
	if hour < 0 || minute < 0 || second < 0 {
		return Value{}, false
	}
	s := fmt.Sprintf("%02d%02d-%02d-%02d %02d:%02d:%02d", century, year, month, day, hour, minute, second)
	if _, err := time.Parse("2006-01-02 15:04:05", s); err != nil {
		return Value{}, false
	}
	return Value{Kind: Date, Text: s}, true
}

// guessTimestamp extends guessDate with a big-endian fractional-nanosecond
// suffix.
func guessTimestamp(b []byte) (Value, bool) {
	if len(b) != 11 {
		return Value{}, false
	}
	century := int(b[0]) - 100
	if century <= 0 {
		return Value{}, false
	}
	year := int(b[1]) - 100
	if year < 0 {
		return Value{}, false
	}
	month := int(b[2])
	day := int(b[3])
	hour := int(b[4]) - 1
	minute := int(b[5]) - 1
	second := int(b[6]) - 1
	if hour < 0 || minute < 0 || second < 0 {
		return Value{}, false
	}
	nanos := uint32(b[7])<<24 | uint32(b[8])<<16 | uint32(b[9])<<8 | uint32(b[10])
	s := fmt.Sprintf("%02d%02d-%02d-%02d %02d:%02d:%02d.%09d", century, year, month, day, hour, minute, second, nanos)
	if _, err := time.Parse("2006-01-02 15:04:05.000000000", s); err != nil {
		return Value{}, false
	}
	return Value{Kind: Timestamp, Text: s}, true
}

// guessVarchar2 accepts valid UTF-8 text whose code points are each
// alphanumeric, ASCII, or printable-ASCII graphic. Every ASCII byte
// (0x00-0x7F) satisfies "is ASCII" on its own, including control bytes, so
// in practice only non-ASCII runes are filtered: they must be alphanumeric
// to pass. This mirrors the source predicate exactly rather than the
// stricter "printable text" reading one might expect from the name.
func guessVarchar2(b []byte) (Value, bool) {
	if !utf8.Valid(b) {
		return Value{}, false
	}
	s := string(b)
	for _, r := range s {
		if r < utf8.RuneSelf {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return Value{}, false
	}
	return Value{Kind: Varchar2, Text: s}, true
}

// Base-100 fixed-point encoding constants. first/last byte thresholds are
// the sign/exponent markers of the packed NUMBER format.
const (
	numberZero        = 0x80 // single-byte literal zero
	posFirstLo        = 193  // lowest "first byte" of a positive exponent
	posFirstHi        = 208  // highest "first byte" of a positive exponent
	negTrailer        = 102  // trailing byte marking the negative form
	negFirstHi        = 62   // highest "first byte" of a negative exponent
	mantissaDigitBias = 1    // positive-form mantissa pairs are biased by +1
	mantissaDigitFlip = 101  // negative-form mantissa pairs are 101-b[i]
)

// guessNumber decodes the proprietary base-100 fixed-point NUMBER encoding.
// See DESIGN.md for why the negative-form mantissa loop stops before the
// terminator byte.
func guessNumber(b []byte) (Value, bool) {
	if len(b) == 1 && b[0] == numberZero {
		return Value{Kind: Number, Text: "0"}, true
	}
	if len(b) == 0 {
		return Value{}, false
	}
	last := len(b) - 1
	first := b[0]
	var exp int
	var mantissa strings.Builder
	negative := false

	switch {
	case last >= 1 && b[last] != negTrailer && first >= posFirstLo && first <= posFirstHi:
		exp = int(first-posFirstLo)*2 + 2
		for i := 1; i <= last; i++ {
			mantissa.WriteString(fmt.Sprintf("%02d", int(b[i])-mantissaDigitBias))
		}
	case last >= 2 && b[last] == negTrailer && first <= negFirstHi:
		negative = true
		exp = int(negFirstHi-first)*2 + 2
		// The terminator byte at index `last` is the negative-form marker,
		// not a mantissa digit; a byte-for-byte port of the source's loop
		// bound would fold it into the mantissa pair computation too, where
		// it always yields a negative pair (101-102) and rejects every
		// negative NUMBER unconditionally. That can't be the intended
		// behavior, so the terminator is excluded here.
		for i := 1; i < last; i++ {
			pair := mantissaDigitFlip - int(b[i])
			if pair < 0 {
				return Value{}, false
			}
			mantissa.WriteString(fmt.Sprintf("%02d", pair))
		}
	default:
		return Value{}, false
	}

	sign := ""
	if negative {
		sign = "-"
	}
	d, err := decimal.NewFromString(sign + "0." + mantissa.String())
	if err != nil {
		return Value{}, false
	}
	result := d.Shift(int32(exp))
	return Value{Kind: Number, Text: result.String()}, true
}
