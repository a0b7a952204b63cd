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

package typeguess

import "testing"

func TestGuessEmptyAndNull(t *testing.T) {
	if v := Guess(nil); v.Kind != Unrecognized || v.Text != "NONE" {
		t.Fatalf("empty input: got %+v", v)
	}
	if v := Guess([]byte{0xFF}); v.Kind != Null || v.Text != "NULL" {
		t.Fatalf("0xFF: got %+v", v)
	}
}

// A single byte is never 7 or 11 bytes long, so Date/Timestamp never match,
// and NUMBER's positive/negative forms need at least a two-byte
// exponent+terminator pairing that a lone byte can't supply. Apart from
// 0xFF (NULL) and 0x80 (NUMBER zero), every ASCII byte (0x00-0x7F, control
// bytes included) is a one-character VARCHAR2 and every other byte is
// Unrecognized.
func TestGuessSingleByteSweep(t *testing.T) {
	for b := 0; b < 256; b++ {
		v := Guess([]byte{byte(b)})
		switch b {
		case 0xFF:
			if v.Kind != Null {
				t.Fatalf("byte %#x: expected NULL, got %+v", b, v)
			}
		case 0x80:
			if v.Kind != Number || v.Text != "0" {
				t.Fatalf("byte %#x: expected NUMBER/0, got %+v", b, v)
			}
		default:
			if v.Kind == Varchar2 {
				// ASCII single bytes legitimately decode as one-character
				// strings (e.g. 'A'); not a failure.
				continue
			}
			if v.Kind != Unrecognized {
				t.Fatalf("byte %#x: expected Unrecognized, got %+v", b, v)
			}
		}
	}
}

func TestGuessDate(t *testing.T) {
	v := Guess([]byte{0x78, 0x7B, 0x01, 0x01, 0x01, 0x01, 0x01})
	if v.Kind != Date || v.Text != "2023-01-01 00:00:00" {
		t.Fatalf("got %+v", v)
	}
}

func TestGuessTimestamp(t *testing.T) {
	b := []byte{0x78, 0x7B, 0x01, 0x01, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x2A}
	v := Guess(b)
	if v.Kind != Timestamp || v.Text != "2023-01-01 00:00:00.000000042" {
		t.Fatalf("got %+v", v)
	}
}

func TestGuessVarchar2(t *testing.T) {
	v := Guess([]byte("ROW42"))
	if v.Kind != Varchar2 || v.Text != "ROW42" {
		t.Fatalf("got %+v", v)
	}
}

func TestGuessNumberZero(t *testing.T) {
	v := Guess([]byte{0x80})
	if v.Kind != Number || v.Text != "0" {
		t.Fatalf("got %+v", v)
	}
}

func TestGuessNumberPositive(t *testing.T) {
	// first=0xC2 (E=(194-193)*2+2=4), mantissa pairs b[1]-1, b[2]-1 = "01","02" -> 0.0102 * 10^4 = 102
	v := Guess([]byte{0xC2, 0x02, 0x03})
	if v.Kind != Number || v.Text != "102" {
		t.Fatalf("got %+v", v)
	}
}

// TestGuessNumberNegative exercises the negative-form arithmetic directly
// (the Guess dispatcher would intercept these all-ASCII bytes as VARCHAR2
// first, same as the source's recognition order would for this byte
// pattern - see DESIGN.md).
func TestGuessNumberNegative(t *testing.T) {
	// first=62 (E=2), mantissa bytes 100,100 -> pairs "01","01" -> -0.0101*10^2 = -1.01
	v, ok := guessNumber([]byte{62, 100, 100, 102})
	if !ok || v.Kind != Number || v.Text != "-1.01" {
		t.Fatalf("got %+v ok=%v", v, ok)
	}
}

// TestGuessNumberNegativeLiteralTerminatorWouldReject documents that a byte-exact
// port of the source's loop bound (folding the terminator into the
// mantissa) rejects every negative NUMBER, which is why that bound isn't
// replicated (see guessNumber's comment).
func TestGuessNumberNegativeLiteralTerminatorWouldReject(t *testing.T) {
	// 101 - 102 (the terminator treated as a mantissa byte) is negative,
	// which is exactly the defect guessNumber avoids.
	pair := mantissaDigitFlip - negTrailer
	if pair >= 0 {
		t.Fatalf("expected the literal bound to underflow, got %d", pair)
	}
}

// TestGuessNumberRejectsBadCombination calls guessNumber directly: through
// Guess, these all-ASCII bytes would be claimed by VARCHAR2 first (every
// ASCII byte, including control bytes, satisfies that recognizer).
func TestGuessNumberRejectsBadCombination(t *testing.T) {
	if _, ok := guessNumber([]byte{0x00, 0x01, 0x02}); ok {
		t.Fatal("expected guessNumber to reject a first byte outside both exponent ranges")
	}
}

func TestGuessHex(t *testing.T) {
	v, err := GuessHex("80")
	if err != nil || v.Kind != Number || v.Text != "0" {
		t.Fatalf("got %+v err=%v", v, err)
	}
	if _, err := GuessHex("xy"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
	if _, err := GuessHex("abc"); err == nil {
		t.Fatal("expected error for odd-length hex")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		Null: "NULL", Date: "DATE", Timestamp: "TIMESTAMP",
		Varchar2: "VARCHAR2", Number: "NUMBER", Unrecognized: "Unrecognized",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
