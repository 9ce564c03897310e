//go:build go1.18

package codec

import "testing"

// FuzzDecodeText guards against panics on arbitrary text-dialect input —
// the parser must always either return a batch (possibly containing
// per-command errors) or ErrProtocol, never crash, grounded on
// cache/fuzz_test.go's approach of fuzzing a narrow surface for invariant
// violations rather than a specific expected output.
func FuzzDecodeText(f *testing.F) {
	f.Add("PING\n")
	f.Add("PUT k v 30\n")
	f.Add("GET k\nDEL k\n")
	f.Add("PUT\n")
	f.Add("")
	f.Add("\n\n\n")
	f.Add("STATS extra args\n")

	f.Fuzz(func(t *testing.T, input string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("decodeText panicked on %q: %v", input, r)
			}
		}()
		cmds, consumed, err := Decode(DialectText, []byte(input), testLimits)
		if consumed < 0 || consumed > len(input) {
			t.Fatalf("consumed %d out of bounds for input of length %d", consumed, len(input))
		}
		if err != nil && err != ErrProtocol {
			t.Fatalf("unexpected error kind: %v", err)
		}
		for _, c := range cmds {
			if c.Err == nil {
				_ = Encode(DialectText, Response{Kind: RespOK})
			}
		}
	})
}

// FuzzDecodeBinary does the same for the binary dialect.
func FuzzDecodeBinary(f *testing.F) {
	f.Add([]byte{opPing})
	f.Add(appendBinaryGet(nil, "k"))
	f.Add(appendBinaryPut(nil, "k", "v", 5))
	f.Add([]byte{opPut, 0xFF, 0xFF, 0xFF, 0xFF})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, input []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("decodeBinary panicked on %v: %v", input, r)
			}
		}()
		_, consumed, err := Decode(DialectBinary, input, testLimits)
		if consumed < 0 || consumed > len(input) {
			t.Fatalf("consumed %d out of bounds for input of length %d", consumed, len(input))
		}
		_ = err
	})
}
