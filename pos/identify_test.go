package pos

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

var testCard = &dal.CardInfo{
	Serial:     []byte{0x04, 0xA1, 0xB2, 0xC3},
	Technology: "MIFARE Classic 1k",
	SAK:        0x08,
}

var testBlock0 = []byte{
	0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0x08, 0x04, 0x00,
	0x62, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
}

func newTestTerminal(d dal.DAL, cfg Config) *Terminal {
	cfg.SkipPlatformCheck = true
	if cfg.DetectRetryDelay == 0 {
		cfg.DetectRetryDelay = time.Millisecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	return NewTerminal(dal.StaticLoader(d), WithConfig(cfg), WithLogger(zerolog.Nop()))
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e), "expected *pos.Error, got %T: %v", err, err)
	require.Equal(t, kind, e.Kind, "unexpected kind: %v", err)
	return e
}

func TestIdentifyCardReadsUnprotectedBlock(t *testing.T) {
	d := dal.NewMockDAL()
	d.PiccDevice.DetectResults = []*dal.CardInfo{testCard}
	d.PiccDevice.Blocks[0] = testBlock0

	term := newTestTerminal(d, Config{})
	result, err := term.IdentifyCard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "04 A1 B2 C3", result.Identity.UIDHex())
	assert.Equal(t, "MIFARE Classic 1K/4K (4-byte UID)", result.Identity.TypeLabel)
	assert.Equal(t, "NXP Semiconductors", result.Identity.Manufacturer)
	assert.Equal(t, testBlock0, result.Manufacturer.Data)
	assert.Nil(t, result.Manufacturer.Auth)
	assert.Same(t, result, term.LastCard())

	assert.Equal(t, []string{"Open", "Detect:ONLY_M", "M1Read:0", "Close"}, d.PiccDevice.Calls())
	assert.False(t, d.PiccDevice.IsOpen)
}

func TestIdentifyCardRetriesUntilDetected(t *testing.T) {
	d := dal.NewMockDAL()
	d.PiccDevice.DetectResults = []*dal.CardInfo{nil, nil, nil, nil, testCard}
	d.PiccDevice.Blocks[0] = testBlock0

	delay := 10 * time.Millisecond
	term := newTestTerminal(d, Config{DetectRetryDelay: delay})

	start := time.Now()
	result, err := term.IdentifyCard(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, result)
	assert.Equal(t, 5, d.PiccDevice.DetectCalls())
	assert.GreaterOrEqual(t, time.Since(start), 4*delay)
}

func TestIdentifyCardNoCard(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	result, err := term.IdentifyCard(context.Background())
	assert.Nil(t, result)
	e := requireKind(t, err, KindNoCardDetected)
	assert.Equal(t, "No card detected", e.Message)
	assert.True(t, errors.Is(err, ErrNoCardDetected))

	assert.Equal(t, 5, d.PiccDevice.DetectCalls())
	calls := d.PiccDevice.Calls()
	assert.Equal(t, "Close", calls[len(calls)-1])
	assert.False(t, d.PiccDevice.IsOpen)
	assert.Nil(t, term.LastCard())
}

func TestIdentifyCardDetectErrorsCountAsAttempts(t *testing.T) {
	d := dal.NewMockDAL()
	calls := 0
	d.PiccDevice.DetectFunc = func(dal.DetectMode) (*dal.CardInfo, error) {
		calls++
		if calls < 3 {
			return nil, dal.NewTransportError("Detect", errors.New("rf field error"))
		}
		return testCard, nil
	}

	term := newTestTerminal(d, Config{})
	_, err := term.IdentifyCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestIdentifyCardAttemptsConfigurable(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{DetectAttempts: 2})

	_, err := term.IdentifyCard(context.Background())
	requireKind(t, err, KindNoCardDetected)
	assert.Equal(t, 2, d.PiccDevice.DetectCalls())
}

func TestIdentifyCardAuthFallback(t *testing.T) {
	tests := []struct {
		name      string
		validKeys [][]byte
		wantIndex int
	}{
		{"transport key FF", [][]byte{TransportKeys[0]}, 0},
		{"zero key", [][]byte{TransportKeys[1]}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dal.NewMockDAL()
			d.PiccDevice.DetectResults = []*dal.CardInfo{testCard}
			d.PiccDevice.Blocks[0] = testBlock0
			d.PiccDevice.RequireAuth = true
			d.PiccDevice.ValidKeys = tt.validKeys

			term := newTestTerminal(d, Config{})
			result, err := term.IdentifyCard(context.Background())
			require.NoError(t, err)

			md := result.Manufacturer
			assert.Empty(t, md.Data)
			assert.Contains(t, md.Error, "Block 0 requires authentication: ")
			require.NotNil(t, md.Auth)
			assert.True(t, md.Auth.Success)
			assert.Equal(t, tt.wantIndex, md.Auth.KeyIndex)
			assert.Equal(t, testBlock0, md.Auth.Data)

			block := md.Block()
			require.NotNil(t, block)
			assert.Equal(t, "0004", block.ATQAHex())
		})
	}
}

func TestIdentifyCardAuthExhausted(t *testing.T) {
	d := dal.NewMockDAL()
	d.PiccDevice.DetectResults = []*dal.CardInfo{testCard}
	d.PiccDevice.RequireAuth = true
	d.PiccDevice.ValidKeys = [][]byte{{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}}

	term := newTestTerminal(d, Config{})
	result, err := term.IdentifyCard(context.Background())
	require.NoError(t, err, "block 0 failures never fail identification")

	auth := result.Manufacturer.Auth
	require.NotNil(t, auth)
	assert.False(t, auth.Success)
	assert.True(t, errors.Is(auth.Err, ErrAuthenticationExhausted))
	assert.Equal(t, "Block 0 is fully protected with custom keys", auth.Map()["error"])

	assert.Contains(t, d.PiccDevice.Calls(), "M1Auth:0:FFFFFFFFFFFF")
	assert.Contains(t, d.PiccDevice.Calls(), "M1Auth:0:000000000000")
}

func TestIdentifyCardEmptyBlockTriggersAuth(t *testing.T) {
	d := dal.NewMockDAL()
	d.PiccDevice.DetectResults = []*dal.CardInfo{testCard}

	term := newTestTerminal(d, Config{})
	result, err := term.IdentifyCard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Block 0 is protected or returned no data", result.Manufacturer.Error)
	require.NotNil(t, result.Manufacturer.Auth)
	assert.False(t, result.Manufacturer.Auth.Success)
}

func TestIdentifyCardEmptySerial(t *testing.T) {
	d := dal.NewMockDAL()
	d.PiccDevice.DetectResults = []*dal.CardInfo{{Serial: nil}}

	term := newTestTerminal(d, Config{})
	_, err := term.IdentifyCard(context.Background())
	e := requireKind(t, err, KindDetectionFailed)
	assert.Equal(t, "No serial information available", e.Message)
	assert.False(t, d.PiccDevice.IsOpen)
}

func TestIdentifyCardContextMissing(t *testing.T) {
	var term *Terminal
	_, err := term.IdentifyCard(context.Background())
	e := requireKind(t, err, KindContextMissing)
	assert.Equal(t, "Context is null - cannot initialize PAX SDK", e.Message)

	_, err = NewTerminal(nil).IdentifyCard(context.Background())
	requireKind(t, err, KindContextMissing)
}

func TestIdentifyCardPlatformCheck(t *testing.T) {
	d := dal.NewMockDAL()
	d.PiccDevice.DetectResults = []*dal.CardInfo{testCard}

	unsupported := NewTerminal(dal.StaticLoader(d),
		WithConfig(Config{DetectRetryDelay: time.Millisecond}),
		WithPlatformProber(StaticProber{"com.android.chrome", "libc6"}),
		WithLogger(zerolog.Nop()),
	)
	_, err := unsupported.IdentifyCard(context.Background())
	e := requireKind(t, err, KindPlatformUnsupported)
	assert.Equal(t, "PAX SDK not available on this device - not a PAX device", e.Message)
	assert.Empty(t, d.PiccDevice.Calls(), "reader must not be touched")

	supported := NewTerminal(dal.StaticLoader(d),
		WithConfig(Config{DetectRetryDelay: time.Millisecond}),
		WithPlatformProber(StaticProber{"com.pax.dal"}),
		WithLogger(zerolog.Nop()),
	)
	_, err = supported.IdentifyCard(context.Background())
	assert.NoError(t, err)
}

func TestIdentifyCardHandleUnavailable(t *testing.T) {
	t.Run("missing native library", func(t *testing.T) {
		loader := dal.LoaderFunc(func(context.Context) (dal.DAL, error) {
			return nil, dal.MissingLibraryError("libnfc", errors.New("libnfc.so.6: cannot open shared object file"))
		})
		term := NewTerminal(loader, WithConfig(Config{SkipPlatformCheck: true}), WithLogger(zerolog.Nop()))

		_, err := term.IdentifyCard(context.Background())
		e := requireKind(t, err, KindHandleUnavailable)
		assert.Contains(t, e.Message, "LOAD DAL ERR: Missing native libraries - ")
	})

	t.Run("enumeration error", func(t *testing.T) {
		loader := dal.LoaderFunc(func(context.Context) (dal.DAL, error) {
			return nil, dal.NewEnumerationError("ListDevices", errors.New("input/output error"))
		})
		term := NewTerminal(loader, WithConfig(Config{SkipPlatformCheck: true}), WithLogger(zerolog.Nop()))

		_, err := term.IdentifyCard(context.Background())
		e := requireKind(t, err, KindHandleUnavailable)
		assert.Equal(t, "LOAD DAL ERR: ListDevices: device enumeration failed: input/output error", e.Message)
	})

	t.Run("load error", func(t *testing.T) {
		loader := dal.LoaderFunc(func(context.Context) (dal.DAL, error) {
			return nil, errors.New("no reader attached")
		})
		term := NewTerminal(loader, WithConfig(Config{SkipPlatformCheck: true}), WithLogger(zerolog.Nop()))

		_, err := term.IdentifyCard(context.Background())
		e := requireKind(t, err, KindHandleUnavailable)
		assert.Equal(t, "LOAD DAL ERR: no reader attached", e.Message)
	})

	t.Run("nil handle", func(t *testing.T) {
		loader := dal.LoaderFunc(func(context.Context) (dal.DAL, error) { return nil, nil })
		term := NewTerminal(loader, WithConfig(Config{SkipPlatformCheck: true}), WithLogger(zerolog.Nop()))

		_, err := term.IdentifyCard(context.Background())
		e := requireKind(t, err, KindHandleUnavailable)
		assert.Equal(t, "Failed to get DAL instance - DAL is null", e.Message)
	})

	t.Run("nil reader", func(t *testing.T) {
		d := dal.NewMockDAL()
		d.NilPicc = true
		term := newTestTerminal(d, Config{})

		_, err := term.IdentifyCard(context.Background())
		e := requireKind(t, err, KindHandleUnavailable)
		assert.Equal(t, "Failed to get PICC instance", e.Message)
	})
}

func TestDeviceHandleFailureNotCached(t *testing.T) {
	var loads atomic.Int32
	d := dal.NewMockDAL()
	d.PiccDevice.DetectResults = []*dal.CardInfo{testCard}

	loader := dal.LoaderFunc(func(context.Context) (dal.DAL, error) {
		if loads.Add(1) == 1 {
			return nil, errors.New("usb busy")
		}
		return d, nil
	})
	term := NewTerminal(loader, WithConfig(Config{SkipPlatformCheck: true, DetectRetryDelay: time.Millisecond}), WithLogger(zerolog.Nop()))

	_, err := term.IdentifyCard(context.Background())
	requireKind(t, err, KindHandleUnavailable)

	_, err = term.IdentifyCard(context.Background())
	require.NoError(t, err)
	_, err = term.IdentifyCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
}

func TestIdentifyCardOpenFailure(t *testing.T) {
	d := dal.NewMockDAL()
	d.PiccDevice.OpenError = errors.New("device busy")

	term := newTestTerminal(d, Config{})
	_, err := term.IdentifyCard(context.Background())
	e := requireKind(t, err, KindDetectionFailed)
	assert.Equal(t, "Detection error: device busy", e.Message)
	assert.NotContains(t, d.PiccDevice.Calls(), "Close")
}

func TestIdentifyCardCancelledDuringRetry(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{DetectRetryDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := term.IdentifyCard(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.False(t, d.PiccDevice.IsOpen)
}

func TestReaderIsSerialised(t *testing.T) {
	d := dal.NewMockDAL()
	d.PiccDevice.DetectFunc = func(dal.DetectMode) (*dal.CardInfo, error) {
		return testCard, nil
	}
	d.PiccDevice.Blocks[0] = testBlock0

	term := newTestTerminal(d, Config{})

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := term.IdentifyCard(context.Background())
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-done)
	}

	// Every session must be closed before the next one opens.
	open := false
	for _, call := range d.PiccDevice.Calls() {
		switch call {
		case "Open":
			require.False(t, open, "reader opened twice")
			open = true
		case "Close":
			open = false
		}
	}
	assert.False(t, open)
}

func TestCheckPresence(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	present, err := term.CheckPresence(context.Background())
	require.NoError(t, err)
	assert.False(t, present)
	assert.Equal(t, 1, d.PiccDevice.DetectCalls())

	d.PiccDevice.DetectResults = []*dal.CardInfo{testCard}
	present, err = term.CheckPresence(context.Background())
	require.NoError(t, err)
	assert.True(t, present)

	d.PiccDevice.DetectFunc = func(dal.DetectMode) (*dal.CardInfo, error) {
		return nil, errors.New("collision")
	}
	present, err = term.CheckPresence(context.Background())
	require.NoError(t, err)
	assert.False(t, present)
	assert.False(t, d.PiccDevice.IsOpen)
}

func TestWaitForCard(t *testing.T) {
	d := dal.NewMockDAL()
	var detects atomic.Int32
	d.PiccDevice.DetectFunc = func(dal.DetectMode) (*dal.CardInfo, error) {
		if detects.Add(1) < 4 {
			return nil, nil
		}
		return testCard, nil
	}
	d.PiccDevice.Blocks[0] = testBlock0

	term := newTestTerminal(d, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := term.WaitForCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "04 A1 B2 C3", result.Identity.UIDHex())
	assert.False(t, d.PiccDevice.IsOpen)
}

func TestWaitForCardCancelled(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	result, err := term.WaitForCard(ctx)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, d.PiccDevice.IsOpen)
	assert.Greater(t, d.PiccDevice.DetectCalls(), 1)
}

func TestWaitForCardStopsOnUnavailableHandle(t *testing.T) {
	loader := dal.LoaderFunc(func(context.Context) (dal.DAL, error) {
		return nil, errors.New("no reader attached")
	})
	term := NewTerminal(loader, WithConfig(Config{SkipPlatformCheck: true}), WithLogger(zerolog.Nop()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := term.WaitForCard(ctx)
	requireKind(t, err, KindHandleUnavailable)
	assert.NoError(t, ctx.Err())
}

func TestTryAllModes(t *testing.T) {
	d := dal.NewMockDAL()
	d.PiccDevice.DetectFunc = func(mode dal.DetectMode) (*dal.CardInfo, error) {
		switch mode {
		case dal.DetectISO14443AB:
			return testCard, nil
		case dal.DetectEMVAB:
			return nil, errors.New("not an EMV card")
		}
		return nil, nil
	}

	term := newTestTerminal(d, Config{})
	scan, err := term.TryAllModes(context.Background())
	require.NoError(t, err)

	require.Len(t, scan.Attempts, len(dal.AllDetectModes))
	require.NotNil(t, scan.Best)
	assert.Equal(t, dal.DetectISO14443AB, scan.Best.Mode)
	require.NotNil(t, scan.Card)
	assert.Equal(t, "04 A1 B2 C3", scan.Card.UIDHex())

	m := scan.Map()
	assert.Equal(t, dal.DetectISO14443AB.String(), m["bestMode"])
	modes := m["modes"].([]map[string]any)
	assert.Equal(t, "not an EMV card", modes[len(modes)-1]["error"])

	calls := d.PiccDevice.Calls()
	assert.Equal(t, "Open", calls[0])
	assert.Equal(t, "Close", calls[len(calls)-1])
}

func TestTryAllModesNoCard(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	scan, err := term.TryAllModes(context.Background())
	require.NoError(t, err)
	assert.Nil(t, scan.Best)
	assert.NotContains(t, scan.Map(), "bestMode")
}
