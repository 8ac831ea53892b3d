package wsconn

import (
	"bytes"
	"testing"
)

func TestBuildFrameHeaderLengthEncoding(t *testing.T) {
	cases := []struct {
		name   string
		length int
		want   []byte
	}{
		{"short", 10, []byte{0x82, 10}},
		{"boundary125", 125, []byte{0x82, 125}},
		{"extended16", 126, []byte{0x82, 126, 0, 126}},
		{"extended16max", 0xFFFF, []byte{0x82, 126, 0xFF, 0xFF}},
		{"extended64", 0x10000, []byte{0x82, 127, 0, 0, 0, 0, 0, 1, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := buildFrameHeader(OpBinary, tc.length, true)
			if !bytes.Equal(got, tc.want) {
				t.Errorf("buildFrameHeader(%d) = %x, want %x", tc.length, got, tc.want)
			}
		})
	}
}

func TestBuildFrameHeaderFinBit(t *testing.T) {
	got := buildFrameHeader(OpText, 0, false)
	if got[0]&0x80 != 0 {
		t.Errorf("expected FIN bit clear, got %x", got[0])
	}
	if got[0]&0x0F != byte(OpText) {
		t.Errorf("expected opcode preserved, got %x", got[0])
	}
}

func TestMaskPayloadIsInvolution(t *testing.T) {
	key := []byte{0x12, 0x34, 0x56, 0x78}
	original := bytes.Repeat([]byte("the quick brown fox jumps"), 7)

	working := append([]byte(nil), original...)
	maskPayload(working, key)
	if bytes.Equal(working, original) {
		t.Fatal("masking did not change payload")
	}
	maskPayload(working, key)
	if !bytes.Equal(working, original) {
		t.Fatal("masking twice with the same key did not restore payload")
	}
}

func TestMaskPayloadOddLength(t *testing.T) {
	key := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	original := []byte("odd length payload!") // not a multiple of 8
	working := append([]byte(nil), original...)

	maskPayload(working, key)
	maskPayload(working, key)
	if !bytes.Equal(working, original) {
		t.Fatal("masking roundtrip failed for non-8-aligned payload")
	}
}

func TestMaskPayloadMatchesByteWiseReference(t *testing.T) {
	key := []byte{1, 2, 3, 4}
	original := []byte("0123456789abcdefg") // 17 bytes, crosses word boundary

	want := append([]byte(nil), original...)
	for i := range want {
		want[i] ^= key[i%4]
	}

	got := append([]byte(nil), original...)
	maskPayload(got, key)

	if !bytes.Equal(got, want) {
		t.Errorf("maskPayload = %x, want %x", got, want)
	}
}
