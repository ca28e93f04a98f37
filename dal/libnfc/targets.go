package libnfc

import (
	"encoding/hex"
	"strings"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

var (
	modulationA = nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	modulationB = nfc.Modulation{Type: nfc.ISO14443b, BaudRate: nfc.Nbr106}
)

// SAK bits, ISO/IEC 14443-3 and NXP AN10833.
const (
	sakClassicBit = 0x08
	sakISODEPBit  = 0x20
)

// isClassicSAK reports whether a type A SAK announces a MIFARE Classic
// compatible card (1K, 4K, mini, or a Plus in SL1).
func isClassicSAK(sak byte) bool {
	return sak&sakClassicBit != 0
}

// infoFromTarget converts a libnfc target to a CardInfo. Targets of other
// modulations, or without a UID, yield nil.
func infoFromTarget(t nfc.Target) *dal.CardInfo {
	switch tt := t.(type) {
	case *nfc.ISO14443aTarget:
		n := int(tt.UIDLen)
		if n <= 0 || n > len(tt.UID) {
			return nil
		}
		return &dal.CardInfo{
			Serial:     append([]byte(nil), tt.UID[:n]...),
			Technology: technologyA(tt.Sak),
			SAK:        tt.Sak,
			ATQA:       []byte{tt.Atqa[0], tt.Atqa[1]},
		}
	case *nfc.ISO14443bTarget:
		return &dal.CardInfo{
			Serial:     append([]byte(nil), tt.Pupi[:]...),
			Technology: "ISO14443B",
		}
	default:
		return nil
	}
}

func technologyA(sak byte) string {
	switch {
	case sak == 0x09:
		return "MIFARE Mini"
	case sak == 0x18:
		return "MIFARE Classic 4k"
	case isClassicSAK(sak):
		return "MIFARE Classic 1k"
	case sak&sakISODEPBit != 0:
		return "ISO14443-4A"
	default:
		return "ISO14443A"
	}
}

// acceptsMode reports whether a detected card qualifies for mode.
func acceptsMode(info *dal.CardInfo, mode dal.DetectMode) bool {
	if info == nil {
		return false
	}
	typeB := info.Technology == "ISO14443B"
	switch mode {
	case dal.DetectOnlyM:
		return !typeB && isClassicSAK(info.SAK)
	case dal.DetectOnlyA:
		return !typeB
	case dal.DetectISO14443AB:
		return true
	case dal.DetectEMVAB:
		return typeB || info.SAK&sakISODEPBit != 0
	default:
		return false
	}
}

// modulationsFor lists the modulations polled for mode, in order.
func modulationsFor(mode dal.DetectMode) []nfc.Modulation {
	switch mode {
	case dal.DetectISO14443AB, dal.DetectEMVAB:
		return []nfc.Modulation{modulationA, modulationB}
	default:
		return []nfc.Modulation{modulationA}
	}
}

// classicTagType maps a freefare tag type to a technology label.
func classicTagType(t int) string {
	switch t {
	case int(freefare.Classic4k):
		return "MIFARE Classic 4k"
	default:
		return "MIFARE Classic 1k"
	}
}

func uidKey(uid []byte) string {
	return strings.ToUpper(hex.EncodeToString(uid))
}
