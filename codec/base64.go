// Package codec implements the base64 wire encoding used to carry binary
// payloads (source code, stdin, stdout, stderr) inside vsocky's JSON frames.
//
// The alphabet is the standard one (A-Z, a-z, 0-9, +, /) with = padding; no
// URL-safe variant and no line wrapping. The decoder is deliberately our own
// rather than encoding/base64: the wire contract pins down exactly which
// malformed inputs are rejected, and failures must surface as the agent's
// vsockerr.InvalidEncoding kind.
package codec

import "github.com/vsocky/vsocky/vsockerr"

const encodeTable = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const (
	invalidSym = -1
	padSym     = -2
)

var decodeTable = buildDecodeTable()

func buildDecodeTable() [256]int8 {
	var table [256]int8
	for i := range table {
		table[i] = invalidSym
	}
	for i := 0; i < len(encodeTable); i++ {
		table[encodeTable[i]] = int8(i)
	}
	table['='] = padSym
	return table
}

// Encode converts arbitrary bytes to base64 text. It is total: every input,
// including empty, has an encoding, and output length is always a multiple
// of four.
func Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	out := make([]byte, 0, (len(data)+2)/3*4)

	i := 0
	for ; i+2 < len(data); i += 3 {
		triple := uint32(data[i])<<16 | uint32(data[i+1])<<8 | uint32(data[i+2])
		out = append(out,
			encodeTable[triple>>18&0x3F],
			encodeTable[triple>>12&0x3F],
			encodeTable[triple>>6&0x3F],
			encodeTable[triple&0x3F])
	}

	// Final group of 1 or 2 bytes: zero-pad the missing bits and emit
	// literal '=' for the absent positions.
	if i < len(data) {
		triple := uint32(data[i]) << 16
		if i+1 < len(data) {
			triple |= uint32(data[i+1]) << 8
		}
		out = append(out, encodeTable[triple>>18&0x3F], encodeTable[triple>>12&0x3F])
		if i+1 < len(data) {
			out = append(out, encodeTable[triple>>6&0x3F], '=')
		} else {
			out = append(out, '=', '=')
		}
	}

	return string(out)
}

// Decode converts base64 text back to bytes. Inputs whose length is not a
// multiple of four, that contain characters outside the alphabet, or that
// place padding anywhere but the tail of the final group fail with
// vsockerr.InvalidEncoding. A single '=' closing the final group after three
// data characters is accepted and truncates the group to two bytes.
func Decode(encoded string) ([]byte, error) {
	if len(encoded) == 0 {
		return []byte{}, nil
	}
	if len(encoded)%4 != 0 {
		return nil, vsockerr.InvalidEncoding
	}

	padding := 0
	if encoded[len(encoded)-1] == '=' {
		padding++
		if encoded[len(encoded)-2] == '=' {
			padding++
		}
	}

	out := make([]byte, 0, len(encoded)/4*3-padding)

	for i := 0; i < len(encoded); i += 4 {
		var vals [4]int8
		for j := 0; j < 4; j++ {
			v := decodeTable[encoded[i+j]]
			if v == invalidSym {
				return nil, vsockerr.InvalidEncoding
			}
			// Padding may only occupy the trailing positions of the
			// final group.
			if v == padSym && i+j < len(encoded)-padding {
				return nil, vsockerr.InvalidEncoding
			}
			vals[j] = v
		}

		triple := uint32(vals[0])<<18 | uint32(vals[1])<<12
		if vals[2] != padSym {
			triple |= uint32(vals[2]) << 6
		}
		if vals[3] != padSym {
			triple |= uint32(vals[3])
		}

		out = append(out, byte(triple>>16))
		if vals[2] != padSym {
			out = append(out, byte(triple>>8))
		}
		if vals[3] != padSym {
			out = append(out, byte(triple))
		}
	}

	return out, nil
}

// DecodeString decodes base64 text and reinterprets the bytes as a string.
func DecodeString(encoded string) (string, error) {
	decoded, err := Decode(encoded)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
