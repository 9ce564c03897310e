package wal

import (
	"bytes"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{
		LSN:         42,
		TimestampMS: 1_700_000_000_000,
		Op:          OpSet,
		Key:         []byte("hello"),
		Value:       []byte("world"),
		ExpiresAtMS: 1_700_000_100_000,
	}

	encoded := Encode(rec)
	got, n, err := ReadRecord(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("read %d bytes, want %d", n, len(encoded))
	}
	if got.LSN != rec.LSN || got.Op != rec.Op || string(got.Key) != "hello" ||
		string(got.Value) != "world" || got.ExpiresAtMS != rec.ExpiresAtMS {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestRecordCorruptCRCDetected(t *testing.T) {
	rec := Record{LSN: 1, Op: OpSet, Key: []byte("k"), Value: []byte("v")}
	encoded := Encode(rec)
	encoded[len(encoded)-1] ^= 0xFF // flip a bit in the trailing CRC

	_, _, err := ReadRecord(bytes.NewReader(encoded))
	if err != ErrCorruptRecord {
		t.Fatalf("err = %v, want ErrCorruptRecord", err)
	}
}

func TestRecordTruncatedReadsAsEOF(t *testing.T) {
	rec := Record{LSN: 1, Op: OpDelete, Key: []byte("k")}
	encoded := Encode(rec)
	truncated := encoded[:len(encoded)-3]

	_, _, err := ReadRecord(bytes.NewReader(truncated))
	if err == nil {
		t.Fatal("expected an error reading a truncated record")
	}
}

func TestAppendEncodedBuildsContiguousBatch(t *testing.T) {
	var buf []byte
	buf = AppendEncoded(buf, Record{LSN: 1, Op: OpSet, Key: []byte("a"), Value: []byte("1")})
	buf = AppendEncoded(buf, Record{LSN: 2, Op: OpSet, Key: []byte("b"), Value: []byte("2")})

	r := bytes.NewReader(buf)
	first, _, err := ReadRecord(r)
	if err != nil || first.LSN != 1 {
		t.Fatalf("first record: %+v, err=%v", first, err)
	}
	second, _, err := ReadRecord(r)
	if err != nil || second.LSN != 2 {
		t.Fatalf("second record: %+v, err=%v", second, err)
	}
}
