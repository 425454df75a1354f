package wscapture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOpcodeMapsKnownOpcodes(t *testing.T) {
	cases := map[byte]FrameType{
		OpcodeText:   FrameText,
		OpcodeBinary: FrameBinary,
		OpcodeClose:  FrameClose,
		OpcodePing:   FramePing,
		OpcodePong:   FramePong,
	}
	for opcode, want := range cases {
		got, ok := ParseOpcode(opcode)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestParseOpcodeRejectsUnknownOpcode(t *testing.T) {
	_, ok := ParseOpcode(0x3)
	assert.False(t, ok)
}

func TestToOpcodeRoundTripsWithParseOpcode(t *testing.T) {
	for _, ft := range []FrameType{FrameText, FrameBinary, FrameClose, FramePing, FramePong} {
		opcode := ToOpcode(ft)
		got, ok := ParseOpcode(opcode)
		assert.True(t, ok)
		assert.Equal(t, ft, got)
	}
}

func TestUnmaskPayloadMatchesKnownVector(t *testing.T) {
	payload := []byte{0x7f, 0x9f, 0x4d, 0x51, 0x58}
	mask := [4]byte{0x37, 0xfa, 0x21, 0x3d}

	unmasked := UnmaskPayload(payload, mask)
	assert.NotEqual(t, payload, unmasked)
	assert.Equal(t, []byte("Hello"), unmasked)

	remasked := MaskPayload(unmasked, mask)
	assert.Equal(t, payload, remasked)
}

func TestMaskUnmaskRoundTripForArbitraryPayload(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	mask := [4]byte{0xde, 0xad, 0xbe, 0xef}

	masked := MaskPayload(payload, mask)
	assert.Equal(t, payload, UnmaskPayload(masked, mask))
}
