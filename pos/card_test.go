package pos

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardTypeLabel(t *testing.T) {
	tests := []struct {
		name string
		uid  []byte
		want string
	}{
		{"4-byte", []byte{0x04, 0xA1, 0xB2, 0xC3}, "MIFARE Classic 1K/4K (4-byte UID)"},
		{"7-byte", make([]byte, 7), "MIFARE Classic 1K/4K (7-byte UID)"},
		{"10-byte", make([]byte, 10), "MIFARE Classic 4K (10-byte UID)"},
		{"5-byte", make([]byte, 5), "Unknown (5-byte UID)"},
		{"empty", nil, "Unknown (0-byte UID)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CardTypeLabel(tt.uid))
		})
	}
}

func TestManufacturerName(t *testing.T) {
	assert.Equal(t, "NXP Semiconductors", ManufacturerName(0x04))
	assert.Equal(t, "STMicroelectronics", ManufacturerName(0x02))
	assert.Equal(t, "Infineon Technologies", ManufacturerName(0x05))
	assert.Equal(t, "Unknown (0xAB)", ManufacturerName(0xAB))
	assert.Equal(t, "Unknown (0x0F)", ManufacturerName(0x0F))
}

func TestIdentifyUID(t *testing.T) {
	id := IdentifyUID([]byte{0x04, 0xA1, 0xB2, 0xC3})
	assert.Equal(t, CardTypeClassic4Byte, id.Type)
	assert.Equal(t, "NXP Semiconductors", id.Manufacturer)
	assert.Equal(t, "04 A1 B2 C3", id.UIDHex())

	m := id.TypeMap()
	assert.Equal(t, "MIFARE Classic 1K/4K (4-byte UID)", m["cardType"])
	assert.Equal(t, "04", m["firstByte"])
	assert.Equal(t, 4, m["uidLength"])

	short := IdentifyUID([]byte{0x04, 0x01, 0x02})
	assert.Empty(t, short.Manufacturer)
	assert.NotContains(t, short.TypeMap(), "manufacturer")

	assert.Empty(t, IdentifyUID(nil).TypeMap())
}

func TestHexString(t *testing.T) {
	assert.Equal(t, "04 AB CD", HexString([]byte{0x04, 0xAB, 0xCD}))
	assert.Equal(t, "00", HexString([]byte{0x00}))
	assert.Equal(t, "", HexString(nil))
}

func TestParseManufacturerBlock(t *testing.T) {
	data := []byte{
		0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0x08, 0x44, 0x00,
		0x62, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
	}

	block, err := ParseManufacturerBlock(data)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x04, 0xA1, 0xB2, 0xC3}, block.EmbeddedUID)
	assert.Equal(t, byte(0xD4), block.BCC)
	assert.Equal(t, byte(0x08), block.SAK)
	assert.Equal(t, "0044", block.ATQAHex())
	assert.True(t, block.BCCValid())

	m := block.Map()
	assert.Equal(t, "04 A1 B2 C3", m["embeddedUid"])
	assert.Equal(t, "D4", m["bcc"])
	assert.Equal(t, "08", m["sak"])
	assert.Equal(t, "0044", m["atqa"])
	assert.Equal(t, []int{0x44, 0x00}, m["atqaBytes"])
}

func TestParseManufacturerBlockInvalidLength(t *testing.T) {
	block, err := ParseManufacturerBlock(make([]byte, 15))
	assert.Nil(t, block)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidLength))
	assert.True(t, IsKind(err, KindInvalidLength))

	assert.Equal(t, map[string]any{"error": "Invalid data length"}, parsedBlockMap([]byte{0x01}))
}

func TestManufacturerDataMap(t *testing.T) {
	md := &ManufacturerData{
		Error: "Block 0 is protected or returned no data",
		Auth: &AuthResult{
			Err: newError(KindAuthenticationExhausted, "x", "Block 0 is fully protected with custom keys", nil),
		},
	}

	m := md.Map()
	assert.NotContains(t, m, "block0Data")
	assert.Equal(t, "Block 0 is protected or returned no data", m["error"])
	auth := m["authResult"].(map[string]any)
	assert.Equal(t, false, auth["success"])
	assert.Equal(t, "Block 0 is fully protected with custom keys", auth["error"])
	assert.Nil(t, md.Block())
}
