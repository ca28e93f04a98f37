package dal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeMissingDevices(t *testing.T) {
	c := &Composite{}

	picc, err := c.Picc(PiccInternal)
	assert.Nil(t, picc)
	assert.EqualError(t, err, "no internal card reader configured")

	printer, err := c.Printer()
	assert.Nil(t, printer)
	assert.EqualError(t, err, "no printer configured")
}

func TestCompositeFactories(t *testing.T) {
	mp := NewMockPicc()
	pr := NewMockPrinter()

	var gotType PiccType = -1
	c := &Composite{
		PiccFactory: func(t PiccType) (Picc, error) {
			gotType = t
			return mp, nil
		},
		PrinterFactory: func() (Printer, error) { return pr, nil },
		Versions:       map[string]string{"libnfc": "1.8.0", "escpos": "serial"},
	}

	picc, err := c.Picc(PiccExternal)
	require.NoError(t, err)
	assert.Same(t, mp, picc)
	assert.Equal(t, PiccExternal, gotType)

	printer, err := c.Printer()
	require.NoError(t, err)
	assert.Same(t, pr, printer)

	assert.Equal(t, "escpos serial, libnfc 1.8.0", c.Version())
}

func TestStaticLoader(t *testing.T) {
	d := NewMockDAL()
	got, err := StaticLoader(d).Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, d, got)
}

func TestMockPiccRequiresOpen(t *testing.T) {
	m := NewMockPicc()
	_, err := m.Detect(DetectOnlyM)
	assert.ErrorIs(t, err, &DeviceError{Code: ErrCodeNotOpen})

	require.NoError(t, m.Open())
	m.DetectResults = []*CardInfo{nil, {Serial: []byte{1, 2, 3, 4}}}

	first, err := m.Detect(DetectOnlyM)
	require.NoError(t, err)
	assert.Nil(t, first)

	for i := 0; i < 3; i++ {
		info, err := m.Detect(DetectOnlyA)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3, 4}, info.Serial)
	}
	assert.Equal(t, 5, m.DetectCalls())
}

func TestDemoDAL(t *testing.T) {
	d := NewDemoDAL()
	picc, err := d.Picc(PiccInternal)
	require.NoError(t, err)
	require.NoError(t, picc.Open())

	info, err := picc.Detect(DetectOnlyM)
	require.NoError(t, err)
	assert.Contains(t, info.String(), "serial=04 A1 B2 C3")

	_, err = picc.M1Read(0)
	assert.Error(t, err, "block 0 needs authentication")

	require.NoError(t, picc.M1Auth(KeyTypeA, 0, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, info.Serial))
	block, err := picc.M1Read(0)
	require.NoError(t, err)
	assert.Len(t, block, 16)
}
