package libnfc

import (
	"errors"
	"testing"

	"github.com/clausecker/nfc/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

func classicTarget(sak byte) *nfc.ISO14443aTarget {
	t := &nfc.ISO14443aTarget{Sak: sak, UIDLen: 4}
	t.Atqa = [2]byte{0x00, 0x04}
	copy(t.UID[:], []byte{0x04, 0xA1, 0xB2, 0xC3})
	return t
}

func TestInfoFromTargetTypeA(t *testing.T) {
	info := infoFromTarget(classicTarget(0x08))
	require.NotNil(t, info)

	assert.Equal(t, []byte{0x04, 0xA1, 0xB2, 0xC3}, info.Serial)
	assert.Equal(t, "MIFARE Classic 1k", info.Technology)
	assert.Equal(t, byte(0x08), info.SAK)
	assert.Equal(t, []byte{0x00, 0x04}, info.ATQA)
}

func TestInfoFromTargetInvalidUID(t *testing.T) {
	target := classicTarget(0x08)
	target.UIDLen = 0
	assert.Nil(t, infoFromTarget(target))

	target.UIDLen = 11
	assert.Nil(t, infoFromTarget(target))
}

func TestInfoFromTargetTypeB(t *testing.T) {
	target := &nfc.ISO14443bTarget{Pupi: [4]byte{0x11, 0x22, 0x33, 0x44}}
	info := infoFromTarget(target)
	require.NotNil(t, info)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, info.Serial)
	assert.Equal(t, "ISO14443B", info.Technology)
}

func TestTechnologyA(t *testing.T) {
	assert.Equal(t, "MIFARE Classic 1k", technologyA(0x08))
	assert.Equal(t, "MIFARE Classic 4k", technologyA(0x18))
	assert.Equal(t, "MIFARE Mini", technologyA(0x09))
	assert.Equal(t, "ISO14443-4A", technologyA(0x20))
	assert.Equal(t, "ISO14443A", technologyA(0x00))
}

func TestAcceptsMode(t *testing.T) {
	classic := &dal.CardInfo{Serial: []byte{1, 2, 3, 4}, SAK: 0x08}
	ultralight := &dal.CardInfo{Serial: make([]byte, 7), SAK: 0x00}
	desfire := &dal.CardInfo{Serial: make([]byte, 7), SAK: 0x20}
	typeB := &dal.CardInfo{Serial: make([]byte, 4), Technology: "ISO14443B"}

	tests := []struct {
		name string
		info *dal.CardInfo
		mode dal.DetectMode
		want bool
	}{
		{"classic only M", classic, dal.DetectOnlyM, true},
		{"ultralight only M", ultralight, dal.DetectOnlyM, false},
		{"ultralight only A", ultralight, dal.DetectOnlyA, true},
		{"type B only A", typeB, dal.DetectOnlyA, false},
		{"type B AB", typeB, dal.DetectISO14443AB, true},
		{"classic EMV", classic, dal.DetectEMVAB, false},
		{"desfire EMV", desfire, dal.DetectEMVAB, true},
		{"type B EMV", typeB, dal.DetectEMVAB, true},
		{"nil", nil, dal.DetectISO14443AB, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, acceptsMode(tt.info, tt.mode))
		})
	}
}

func TestModulationsFor(t *testing.T) {
	assert.Equal(t, []nfc.Modulation{modulationA}, modulationsFor(dal.DetectOnlyM))
	assert.Equal(t, []nfc.Modulation{modulationA}, modulationsFor(dal.DetectOnlyA))
	assert.Equal(t, []nfc.Modulation{modulationA, modulationB}, modulationsFor(dal.DetectEMVAB))
}

func TestUIDKey(t *testing.T) {
	assert.Equal(t, "04A1B2C3", uidKey([]byte{0x04, 0xA1, 0xB2, 0xC3}))
}

func TestListWithRetryRecovers(t *testing.T) {
	calls := 0
	list := func() ([]string, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("usb busy")
		}
		return []string{"acr122_usb:001:004"}, nil
	}

	devices, err := listWithRetry(list, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"acr122_usb:001:004"}, devices)
	assert.Equal(t, 2, calls)
}

func TestListWithRetryReportsDeviceError(t *testing.T) {
	cause := errors.New("nfc_list_devices: input/output error")
	calls := 0
	list := func() ([]string, error) {
		calls++
		return nil, cause
	}

	_, err := listWithRetry(list, 3, 0)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, &dal.DeviceError{Code: dal.ErrCodeEnumeration})
	assert.ErrorIs(t, err, cause)
	assert.False(t, dal.IsNativeLibraryMissing(err))
	assert.Equal(t, "ListDevices: device enumeration failed: after 3 attempts: nfc_list_devices: input/output error", err.Error())
}
