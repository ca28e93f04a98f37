package pos

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/pax-pos-agent/dal"
	"github.com/dotside-studios/pax-pos-agent/raster"
)

func intPtr(v int) *int { return &v }

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 8))
	for x := 0; x < 16; x++ {
		img.SetGray(x, 4, color.Gray{Y: 0})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrintText(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	msg, err := term.PrintText(context.Background(), "hi", PrintOptions{Alignment: AlignCenter})
	require.NoError(t, err)
	assert.Equal(t, "Text printed successfully", msg)

	p := d.PrinterDevice
	require.Len(t, p.Texts, 1)
	assert.Equal(t, strings.Repeat(" ", 15)+"hi", p.Texts[0])
	assert.Equal(t, []string{"UTF-8"}, p.Charsets)
	assert.True(t, p.Called("Start"))
	assert.False(t, p.Called("FontSet"), "unset options are not applied")
	assert.False(t, p.Called("SetGray"))
	assert.False(t, p.Called("SpaceSet"))
}

func TestPrintTextAppliesOptions(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	_, err := term.PrintText(context.Background(), "total 12.00", PrintOptions{
		FontSize:    FontSizeLarge,
		GrayLevel:   intPtr(3),
		LineSpacing: intPtr(6),
		Charset:     "GBK",
	})
	require.NoError(t, err)

	p := d.PrinterDevice
	assert.True(t, p.Called("FontSet:FONT_16_32"))
	assert.Equal(t, 3, p.Gray)
	assert.Equal(t, [2]byte{0, 6}, p.Spacing)
	assert.Equal(t, []string{"GBK"}, p.Charsets)
}

// arabicFont returns a system font with Arabic glyphs or skips the test.
func arabicFont(t *testing.T) string {
	t.Helper()
	for _, path := range []string{
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/TTF/DejaVuSans.ttf",
		"/usr/share/fonts/truetype/noto/NotoSansArabic-Regular.ttf",
		"/usr/share/fonts/noto/NotoSansArabic-Regular.ttf",
		"/Library/Fonts/Arial Unicode.ttf",
		"C:\\Windows\\Fonts\\arial.ttf",
	} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	t.Skip("no font with Arabic glyphs installed")
	return ""
}

func TestPrintTextRightToLeft(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{FontPath: arabicFont(t)})

	msg, err := term.PrintText(context.Background(), "مرحبا", PrintOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Arabic text printed successfully as image", msg)

	p := d.PrinterDevice
	assert.Empty(t, p.Texts)
	require.Len(t, p.Bitmaps, 1)
	assert.Equal(t, 384, p.Bitmaps[0].Bounds().Dx())
	assert.True(t, p.Called("Start"))
}

func TestPrintTextRightToLeftWithoutArabicFont(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	_, err := term.PrintText(context.Background(), "مرحبا", PrintOptions{})
	e := requireKind(t, err, KindRenderFailed)
	assert.Contains(t, e.Message, "no font with Arabic glyphs")
	assert.ErrorIs(t, err, raster.ErrMissingGlyphs)

	p := d.PrinterDevice
	assert.Empty(t, p.Bitmaps)
	assert.False(t, p.Called("Start"), "nothing is submitted")
}

func TestPrintTextNotReady(t *testing.T) {
	d := dal.NewMockDAL()
	d.PrinterDevice.StatusCodes = []int{StatusOutOfPaper}
	term := newTestTerminal(d, Config{})

	_, err := term.PrintText(context.Background(), "hi", PrintOptions{})
	e := requireKind(t, err, KindPrintNotReady)
	assert.Equal(t, "Printer not ready: Out of paper", e.Message)
	status, ok := StatusOf(err)
	assert.True(t, ok)
	assert.Equal(t, StatusOutOfPaper, status)

	p := d.PrinterDevice
	assert.Empty(t, p.Texts)
	assert.False(t, p.Called("Start"))

	inits := 0
	for _, call := range p.CallLog {
		if call == "Init" {
			inits++
		}
	}
	assert.Equal(t, 2, inits, "one session init plus one recovery init")
}

func TestPrintTextRecoversAfterReinit(t *testing.T) {
	d := dal.NewMockDAL()
	d.PrinterDevice.StatusCodes = []int{StatusBusy, StatusNormal}
	term := newTestTerminal(d, Config{})

	_, err := term.PrintText(context.Background(), "hi", PrintOptions{})
	require.NoError(t, err)
	assert.Len(t, d.PrinterDevice.Texts, 1)
}

func TestPrintTextStartFailure(t *testing.T) {
	d := dal.NewMockDAL()
	d.PrinterDevice.StartCode = 3
	term := newTestTerminal(d, Config{})

	_, err := term.PrintText(context.Background(), "hi", PrintOptions{})
	e := requireKind(t, err, KindPrintFailed)
	assert.Equal(t, "Print failed with status: 3", e.Message)
	assert.True(t, errors.Is(err, ErrPrintFailed))

	res := Fail(err)
	require.NotNil(t, res.StatusCode)
	assert.Equal(t, 3, *res.StatusCode)
}

func TestPrinterInitialisedOncePerSession(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	for i := 0; i < 3; i++ {
		_, err := term.PrintText(context.Background(), "line", PrintOptions{})
		require.NoError(t, err)
	}

	countInit := func() int {
		n := 0
		for _, call := range d.PrinterDevice.CallLog {
			if call == "Init" {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, countInit())

	d.PrinterDevice.StartError = errors.New("usb write failed")
	_, err := term.PrintText(context.Background(), "line", PrintOptions{})
	e := requireKind(t, err, KindPrinterError)
	assert.Equal(t, "Printer error: usb write failed", e.Message)

	d.PrinterDevice.StartError = nil
	_, err = term.PrintText(context.Background(), "line", PrintOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, countInit(), "a failed job forces re-initialisation")
}

func TestPrinterUnavailable(t *testing.T) {
	d := dal.NewMockDAL()
	d.PrinterError = errors.New("no printer")
	term := newTestTerminal(d, Config{})

	err := term.InitializePrinter(context.Background())
	e := requireKind(t, err, KindPrinterUnavailable)
	assert.Equal(t, "Failed to initialize printer", e.Message)

	d.PrinterError = nil
	d.PrinterDevice.InitError = errors.New("head fault")
	err = term.InitializePrinter(context.Background())
	requireKind(t, err, KindPrinterUnavailable)
}

func TestPrintImage(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	require.NoError(t, term.PrintImage(context.Background(), testPNG(t)))
	require.Len(t, d.PrinterDevice.Bitmaps, 1)
	assert.Equal(t, 16, d.PrinterDevice.Bitmaps[0].Bounds().Dx())
	assert.True(t, d.PrinterDevice.Called("Start"))
}

func TestPrintImageDecodeFailure(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	err := term.PrintImage(context.Background(), []byte("not an image"))
	e := requireKind(t, err, KindImageDecodeFailed)
	assert.Equal(t, "Failed to decode image", e.Message)
	assert.False(t, d.PrinterDevice.Called("Start"))

	err = term.PrintImage(context.Background(), nil)
	requireKind(t, err, KindImageDecodeFailed)
}

func TestPrintImageWithThreshold(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	require.NoError(t, term.PrintImageWithThreshold(context.Background(), testPNG(t), 0))
	require.NoError(t, term.PrintImageWithThreshold(context.Background(), testPNG(t), 200))

	assert.True(t, d.PrinterDevice.Called("PrintBitmapWithMonoThreshold:128"))
	assert.True(t, d.PrinterDevice.Called("PrintBitmapWithMonoThreshold:200"))
}

func TestCutPaper(t *testing.T) {
	t.Run("cuts", func(t *testing.T) {
		d := dal.NewMockDAL()
		term := newTestTerminal(d, Config{})

		require.NoError(t, term.CutPaper(context.Background(), 1))
		assert.Equal(t, []int{1}, d.PrinterDevice.Cuts)
	})

	t.Run("no cutter", func(t *testing.T) {
		d := dal.NewMockDAL()
		d.PrinterDevice.CutModeValue = -1
		term := newTestTerminal(d, Config{})

		err := term.CutPaper(context.Background(), 0)
		e := requireKind(t, err, KindCutUnsupported)
		assert.Equal(t, "This device does not support paper cutting", e.Message)
		status, _ := StatusOf(err)
		assert.Equal(t, -1, status)
		assert.False(t, d.PrinterDevice.Called("CutPaper:"), "cut command must not be sent")
	})

	t.Run("driver reports not supported", func(t *testing.T) {
		d := dal.NewMockDAL()
		d.PrinterDevice.CutError = errors.New("Cut is not supported on this model")
		term := newTestTerminal(d, Config{})

		err := term.CutPaper(context.Background(), 0)
		e := requireKind(t, err, KindCutUnsupported)
		assert.Equal(t, "Paper cutting not supported on this device", e.Message)
		status, _ := StatusOf(err)
		assert.Equal(t, -1, status)
	})

	t.Run("typed not supported", func(t *testing.T) {
		d := dal.NewMockDAL()
		d.PrinterDevice.CutModeError = dal.NewNotSupportedError("CutMode")
		term := newTestTerminal(d, Config{})

		err := term.CutPaper(context.Background(), 0)
		requireKind(t, err, KindCutUnsupported)
	})

	t.Run("other failure", func(t *testing.T) {
		d := dal.NewMockDAL()
		d.PrinterDevice.CutError = errors.New("blade jammed")
		term := newTestTerminal(d, Config{})

		err := term.CutPaper(context.Background(), 0)
		e := requireKind(t, err, KindPrinterError)
		assert.Equal(t, "Printer error: blade jammed", e.Message)
	})
}

func TestIsCutSupported(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	ok, err := term.IsCutSupported(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	d.PrinterDevice.CutModeValue = -1
	ok, err = term.IsCutSupported(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	d.PrinterDevice.CutModeValue = 0
	d.PrinterDevice.CutModeError = dal.NewNotSupportedError("CutMode")
	ok, err = term.IsCutSupported(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFeedPaper(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	require.NoError(t, term.FeedPaper(context.Background(), 0))
	require.NoError(t, term.FeedPaper(context.Background(), 120))
	assert.Equal(t, []int{DefaultFeedPixels, 120}, d.PrinterDevice.Steps)
}

func TestPrinterStatus(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})

	code, msg, err := term.PrinterStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Normal", msg)

	d.PrinterDevice.StatusError = errors.New("no response")
	term.Reset()
	_, _, err = term.PrinterStatus(context.Background())
	requireKind(t, err, KindPrinterError)
}

func TestPrinterSettings(t *testing.T) {
	d := dal.NewMockDAL()
	term := newTestTerminal(d, Config{})
	ctx := context.Background()

	require.NoError(t, term.SetFontSize(ctx, FontSizeSmall))
	require.NoError(t, term.SetDoubleHeight(ctx, true, false))
	require.NoError(t, term.SetDoubleWidth(ctx, false, true))
	require.NoError(t, term.SetLeftIndent(ctx, 12))
	require.NoError(t, term.SetInvert(ctx, true))
	require.NoError(t, term.SetSpacing(ctx, 2, 30))
	require.NoError(t, term.PresetCutPaper(ctx, 1))
	require.NoError(t, term.SetFontPath(ctx, "/usr/share/fonts/arabic.ttf"))

	p := d.PrinterDevice
	assert.True(t, p.Called("FontSet:FONT_8_16"))
	assert.True(t, p.Called("DoubleHeight:true:false"))
	assert.True(t, p.Called("DoubleWidth:false:true"))
	assert.True(t, p.Called("LeftIndent:12"))
	assert.True(t, p.Called("Invert:true"))
	assert.Equal(t, [2]byte{2, 30}, p.Spacing)
	assert.Equal(t, 1, p.Preset)
	assert.True(t, p.Called("SetFontPath:/usr/share/fonts/arabic.ttf"))

	err := term.SetFontPath(ctx, "")
	requireKind(t, err, KindInvalidArgument)

	dots, err := term.DotLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, 384, dots)

	mode, err := term.CutMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, mode)

	p.FontPathError = dal.NewNotSupportedError("SetFontPath")
	err = term.SetFontPath(ctx, "/tmp/x.ttf")
	requireKind(t, err, KindPrinterError)
}

func TestDiagnose(t *testing.T) {
	term := newTestTerminal(dal.NewMockDAL(), Config{})
	diag := term.Diagnose(context.Background())
	assert.True(t, diag.Loaded)
	assert.Equal(t, "mock", diag.Version)
	assert.Equal(t, true, diag.Map()["dalLoaded"])

	failing := NewTerminal(dal.LoaderFunc(func(context.Context) (dal.DAL, error) {
		return nil, errors.New("no reader attached")
	}), WithPlatformProber(StaticProber{}))
	diag = failing.Diagnose(context.Background())
	assert.False(t, diag.Loaded)
	assert.Equal(t, "LOAD DAL ERR: no reader attached", diag.Map()["error"])
	assert.Equal(t, false, diag.Map()["platformSupported"])
}
