package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsocky/vsocky/vsockerr"
)

func TestEncodeVectors(t *testing.T) {
	for input, want := range map[string]string{
		"":              "",
		"abc":           "YWJj",
		"abcd":          "YWJjZA==",
		"abcde":         "YWJjZGU=",
		"Hello, World!": "SGVsbG8sIFdvcmxkIQ==",
		// the canonical submission payload
		"print('Hello, World!')": "cHJpbnQoJ0hlbGxvLCBXb3JsZCEnKQ==",
	} {
		assert.Equal(t, want, Encode([]byte(input)), "input %q", input)
	}
}

func TestDecodeEmpty(t *testing.T) {
	decoded, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{0x00},
		{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD},
		[]byte("Man"),
		[]byte("any carnal pleasure."),
	}
	// every byte value, at every group alignment
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	inputs = append(inputs, all, all[:255], all[:254])

	for _, input := range inputs {
		encoded := Encode(input)
		assert.Zero(t, len(encoded)%4)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, input, decoded)
	}
}

func TestDecodeInvalidCharacters(t *testing.T) {
	_, err := Decode("Invalid@Base64!!")
	require.Error(t, err)
	assert.True(t, errors.Is(err, vsockerr.InvalidEncoding))

	// the literal vector from the wire contract is also a length violation
	_, err = Decode("Invalid@Base64!")
	assert.True(t, errors.Is(err, vsockerr.InvalidEncoding))
}

func TestDecodeBadLength(t *testing.T) {
	for _, input := range []string{"YWJ", "Y", "YWJjZ"} {
		_, err := Decode(input)
		assert.True(t, errors.Is(err, vsockerr.InvalidEncoding), "input %q", input)
	}
}

func TestDecodeMisplacedPadding(t *testing.T) {
	for _, input := range []string{
		"=AAA",     // leading pad
		"AB=C",     // pad in the middle of a group
		"A===",     // only one data character
		"AB==CD==", // pad before the final group
		"====",     // all padding
	} {
		_, err := Decode(input)
		assert.True(t, errors.Is(err, vsockerr.InvalidEncoding), "input %q", input)
	}
}

func TestDecodeSinglePadAfterThreeCharacters(t *testing.T) {
	// "xyz=" is a shape encoding never produces, but the decoder accepts it
	// and drops the padded byte, yielding two bytes.
	decoded, err := Decode("xyz=")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC7, 0x2C}, decoded)
}

func TestDecodeString(t *testing.T) {
	s, err := DecodeString("SGVsbG8sIFdvcmxkIQ==")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", s)

	_, err = DecodeString("!!!!")
	assert.True(t, errors.Is(err, vsockerr.InvalidEncoding))
}
