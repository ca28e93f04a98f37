package pos

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

// CardType is the card family inferred from the UID length.
type CardType int

const (
	CardTypeUnknown CardType = iota
	CardTypeClassic4Byte
	CardTypeClassic7Byte
	CardTypeClassic10Byte
)

// CardTypeFromUID infers the card family from the UID length.
func CardTypeFromUID(uid []byte) CardType {
	switch len(uid) {
	case 4:
		return CardTypeClassic4Byte
	case 7:
		return CardTypeClassic7Byte
	case 10:
		return CardTypeClassic10Byte
	default:
		return CardTypeUnknown
	}
}

// CardTypeLabel returns the human readable card type for a UID.
func CardTypeLabel(uid []byte) string {
	switch CardTypeFromUID(uid) {
	case CardTypeClassic4Byte:
		return "MIFARE Classic 1K/4K (4-byte UID)"
	case CardTypeClassic7Byte:
		return "MIFARE Classic 1K/4K (7-byte UID)"
	case CardTypeClassic10Byte:
		return "MIFARE Classic 4K (10-byte UID)"
	default:
		return fmt.Sprintf("Unknown (%d-byte UID)", len(uid))
	}
}

// ManufacturerName maps the first UID byte to the chip manufacturer.
func ManufacturerName(b byte) string {
	switch b {
	case 0x04:
		return "NXP Semiconductors"
	case 0x02:
		return "STMicroelectronics"
	case 0x05:
		return "Infineon Technologies"
	default:
		return fmt.Sprintf("Unknown (0x%02X)", b)
	}
}

// CardIdentity is what the UID alone tells about a card.
type CardIdentity struct {
	UID          []byte
	Type         CardType
	TypeLabel    string
	Manufacturer string
}

// IdentifyUID classifies a card from its UID. The manufacturer is only
// derived for UIDs of at least four bytes.
func IdentifyUID(uid []byte) CardIdentity {
	id := CardIdentity{
		UID:       append([]byte(nil), uid...),
		Type:      CardTypeFromUID(uid),
		TypeLabel: CardTypeLabel(uid),
	}
	if len(uid) >= 4 {
		id.Manufacturer = ManufacturerName(uid[0])
	}
	return id
}

// UIDHex renders the UID as space separated uppercase hex.
func (c CardIdentity) UIDHex() string {
	return HexString(c.UID)
}

// TypeMap is the "cardType" entry of the detection payload.
func (c CardIdentity) TypeMap() map[string]any {
	if len(c.UID) == 0 {
		return map[string]any{}
	}
	m := map[string]any{
		"cardType":  c.TypeLabel,
		"uidLength": len(c.UID),
	}
	if c.Manufacturer != "" {
		m["manufacturer"] = c.Manufacturer
		m["firstByte"] = fmt.Sprintf("%02X", c.UID[0])
	}
	return m
}

// ManufacturerBlock is the parsed content of MIFARE Classic block 0.
type ManufacturerBlock struct {
	Raw         []byte
	EmbeddedUID []byte
	BCC         byte
	SAK         byte
	// ATQA holds bytes 6 and 7 in storage order.
	ATQA [2]byte
}

// ManufacturerBlockSize is the size of a MIFARE Classic block.
const ManufacturerBlockSize = 16

// ParseManufacturerBlock decodes block 0. Payloads shorter than 16 bytes are
// rejected without partial results.
func ParseManufacturerBlock(data []byte) (*ManufacturerBlock, error) {
	if len(data) < ManufacturerBlockSize {
		return nil, newError(KindInvalidLength, "ParseManufacturerBlock", "Invalid data length", nil)
	}
	return &ManufacturerBlock{
		Raw:         append([]byte(nil), data...),
		EmbeddedUID: append([]byte(nil), data[0:4]...),
		BCC:         data[4],
		SAK:         data[5],
		ATQA:        [2]byte{data[6], data[7]},
	}, nil
}

// ATQAHex renders the ATQA most significant byte first (byte 7 then byte 6).
func (b *ManufacturerBlock) ATQAHex() string {
	return fmt.Sprintf("%02X%02X", b.ATQA[1], b.ATQA[0])
}

// BCCValid reports whether the BCC is the XOR of the embedded UID bytes.
func (b *ManufacturerBlock) BCCValid() bool {
	var x byte
	for _, v := range b.EmbeddedUID {
		x ^= v
	}
	return x == b.BCC
}

func (b *ManufacturerBlock) Map() map[string]any {
	return map[string]any{
		"embeddedUid":      HexString(b.EmbeddedUID),
		"embeddedUidBytes": byteList(b.EmbeddedUID),
		"bcc":              fmt.Sprintf("%02X", b.BCC),
		"bccValue":         int(b.BCC),
		"bccValid":         b.BCCValid(),
		"sak":              fmt.Sprintf("%02X", b.SAK),
		"sakValue":         int(b.SAK),
		"atqa":             b.ATQAHex(),
		"atqaBytes":        []int{int(b.ATQA[0]), int(b.ATQA[1])},
	}
}

func parsedBlockMap(data []byte) map[string]any {
	block, err := ParseManufacturerBlock(data)
	if err != nil {
		return map[string]any{"error": "Invalid data length"}
	}
	return block.Map()
}

// AuthResult records the authenticated block 0 read attempt.
type AuthResult struct {
	Success bool
	// KeyIndex is the index in TransportKeys that unlocked the block.
	KeyIndex int
	Data     []byte
	Err      error
}

func (a *AuthResult) Map() map[string]any {
	if !a.Success {
		msg := ""
		var e *Error
		switch {
		case errors.As(a.Err, &e):
			msg = e.Message
		case a.Err != nil:
			msg = a.Err.Error()
		}
		return map[string]any{"success": false, "error": msg}
	}
	return map[string]any{
		"success":    true,
		"keyIndex":   a.KeyIndex,
		"data":       HexString(a.Data),
		"dataBytes":  byteList(a.Data),
		"parsedData": parsedBlockMap(a.Data),
	}
}

// ManufacturerData is the recorded outcome of reading block 0. Reading it
// never fails the identification.
type ManufacturerData struct {
	// Data is the unauthenticated read result, empty when that failed.
	Data  []byte
	Error string
	Auth  *AuthResult
}

func (m *ManufacturerData) Map() map[string]any {
	out := map[string]any{}
	if len(m.Data) > 0 {
		out["block0Data"] = HexString(m.Data)
		out["block0Bytes"] = byteList(m.Data)
		out["parsedData"] = parsedBlockMap(m.Data)
	}
	if m.Error != "" {
		out["error"] = m.Error
	}
	if m.Auth != nil {
		out["authResult"] = m.Auth.Map()
	}
	return out
}

// Block returns the parsed block 0 from whichever read succeeded.
func (m *ManufacturerData) Block() *ManufacturerBlock {
	data := m.Data
	if len(data) == 0 && m.Auth != nil && m.Auth.Success {
		data = m.Auth.Data
	}
	block, err := ParseManufacturerBlock(data)
	if err != nil {
		return nil
	}
	return block
}

// CardResult is the outcome of a full identification.
type CardResult struct {
	Identity     CardIdentity
	Info         *dal.CardInfo
	Mode         dal.DetectMode
	Manufacturer *ManufacturerData
	DetectedAt   time.Time
}

// CardData is the "cardData" entry of the detection payload.
func (r *CardResult) CardData() map[string]any {
	m := map[string]any{
		"uid":       r.Identity.UIDHex(),
		"uidLength": len(r.Identity.UID),
		"uidBytes":  byteList(r.Identity.UID),
		"cardType":  r.Identity.TypeMap(),
	}
	if r.Info != nil {
		m["cardInfo"] = r.Info.String()
		if r.Info.Technology != "" {
			m["technology"] = r.Info.Technology
		}
	}
	return m
}

func (r *CardResult) Map() map[string]any {
	m := map[string]any{
		"cardData":   r.CardData(),
		"detectedAt": r.DetectedAt.Format(time.RFC3339),
	}
	if r.Manufacturer != nil {
		m["manufacturerData"] = r.Manufacturer.Map()
	}
	return m
}

// HexString renders bytes as space separated uppercase hex pairs, e.g.
// "04 A1 B2 C3".
func HexString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}

// byteList converts bytes to ints so JSON renders numbers rather than base64.
func byteList(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
