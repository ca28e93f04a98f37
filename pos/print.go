package pos

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotside-studios/pax-pos-agent/dal"
	"github.com/dotside-studios/pax-pos-agent/raster"
)

// DefaultCharset is used when a print request names none.
const DefaultCharset = "UTF-8"

// DefaultFeedPixels is the feed distance used when none is given.
const DefaultFeedPixels = 48

// PrintOptions are the optional settings of a text or image job. Pointer
// fields are only applied when set.
type PrintOptions struct {
	FontSize    string
	GrayLevel   *int
	LineSpacing *int
	CharSpacing *int
	Alignment   int
	Charset     string
}

// withPrinter runs fn with an initialised printer and its current status
// while holding the printer slot. A failed fn forces re-initialisation on
// the next job.
func (t *Terminal) withPrinter(ctx context.Context, op string, fn func(p dal.Printer, status int) error) error {
	if err := t.checkContext(op); err != nil {
		return err
	}
	if err := acquire(ctx, t.printerSlot); err != nil {
		return err
	}
	defer release(t.printerSlot)

	p, status, err := t.ensurePrinter(ctx, op)
	if err != nil {
		return err
	}

	if err := fn(p, status); err != nil {
		t.mu.Lock()
		t.printerReady = false
		t.mu.Unlock()
		t.logger.Warn().Err(err).Str("op", op).Msg("printer operation failed")
		return err
	}
	return nil
}

// ensurePrinter initialises the printer once per session and re-initialises
// it once more when it reports a non-normal status.
func (t *Terminal) ensurePrinter(ctx context.Context, op string) (dal.Printer, int, error) {
	d, err := t.device(ctx, op)
	if err != nil {
		return nil, 0, err
	}

	t.mu.Lock()
	p, ready := t.printer, t.printerReady
	t.mu.Unlock()

	if p == nil {
		p, err = d.Printer()
		if err != nil || p == nil {
			return nil, 0, newError(KindPrinterUnavailable, op, "Failed to initialize printer", err)
		}
	}

	if !ready {
		if err := p.Init(); err != nil {
			return nil, 0, newError(KindPrinterUnavailable, op, "Failed to initialize printer", err)
		}
	}

	status, err := p.Status()
	if err != nil {
		return nil, 0, printerError(op, err)
	}
	if status != StatusNormal {
		t.logger.Debug().Int("status", status).Msg("printer not ready, re-initialising")
		if err := p.Init(); err != nil {
			return nil, 0, newError(KindPrinterUnavailable, op, "Failed to initialize printer", err)
		}
		if status, err = p.Status(); err != nil {
			return nil, 0, printerError(op, err)
		}
	}

	t.mu.Lock()
	t.printer = p
	t.printerReady = true
	t.mu.Unlock()
	return p, status, nil
}

func notReady(op string, status int) error {
	return newStatusError(KindPrintNotReady, op, "Printer not ready: "+StatusMessage(status), status)
}

// submit starts the buffered job and waits the settle delay on success.
func (t *Terminal) submit(ctx context.Context, op string, p dal.Printer) error {
	code, err := p.Start()
	if err != nil {
		return printerError(op, err)
	}
	if code != StatusNormal {
		return newStatusError(KindPrintFailed, op, fmt.Sprintf("Print failed with status: %d", code), code)
	}
	sleep(ctx, t.cfg.SettleDelay)
	return nil
}

// InitializePrinter prepares the printer for the next job.
func (t *Terminal) InitializePrinter(ctx context.Context) error {
	return t.withPrinter(ctx, "InitializePrinter", func(dal.Printer, int) error { return nil })
}

// PrintText prints text. Text containing right-to-left script is rasterised
// and printed as an image; anything else is sent to the printer as a string
// after applying the options. It returns the success message.
func (t *Terminal) PrintText(ctx context.Context, text string, opts PrintOptions) (string, error) {
	const op = "PrintText"

	message := "Text printed successfully"
	err := t.withPrinter(ctx, op, func(p dal.Printer, status int) error {
		if status != StatusNormal {
			return notReady(op, status)
		}

		if raster.ContainsRTL(text) {
			message = "Arabic text printed successfully as image"
			return t.printRTLText(ctx, p, text, opts)
		}

		if opts.FontSize != "" {
			ascii, ext := fontsFor(opts.FontSize)
			if err := p.FontSet(ascii, ext); err != nil {
				return printerError(op, err)
			}
		}
		if opts.GrayLevel != nil {
			if err := p.SetGray(*opts.GrayLevel); err != nil {
				return printerError(op, err)
			}
		}
		if opts.LineSpacing != nil || opts.CharSpacing != nil {
			var word, line int
			if opts.CharSpacing != nil {
				word = *opts.CharSpacing
			}
			if opts.LineSpacing != nil {
				line = *opts.LineSpacing
			}
			if err := p.SpaceSet(byte(word), byte(line)); err != nil {
				return printerError(op, err)
			}
		}

		charset := opts.Charset
		if charset == "" {
			charset = DefaultCharset
		}
		formatted := FormatAlignment(text, opts.Alignment, t.cfg.LineWidth)
		if err := p.PrintStr(formatted, charset); err != nil {
			return printerError(op, err)
		}
		return t.submit(ctx, op, p)
	})
	if err != nil {
		return "", err
	}
	t.logger.Info().Int("chars", len(text)).Msg("text printed")
	return message, nil
}

func (t *Terminal) printRTLText(ctx context.Context, p dal.Printer, text string, opts PrintOptions) error {
	const op = "PrintText"

	img, err := raster.RenderText(text, raster.TextOptions{
		FontSize:  rasterFontSize(opts.FontSize),
		Width:     t.cfg.DotWidth,
		Alignment: rasterAlignment(opts.Alignment),
		FontPath:  t.cfg.FontPath,
	})
	if errors.Is(err, raster.ErrMissingGlyphs) {
		return newError(KindRenderFailed, op, "Failed to create text bitmap: no font with Arabic glyphs configured", err)
	}
	if err != nil {
		return newError(KindRenderFailed, op, "Failed to create text bitmap", err)
	}
	if err := p.PrintBitmap(img); err != nil {
		return printerError(op, err)
	}
	return t.submit(ctx, op, p)
}

// PrintImage decodes an encoded image and prints it.
func (t *Terminal) PrintImage(ctx context.Context, data []byte) error {
	const op = "PrintImage"

	return t.withPrinter(ctx, op, func(p dal.Printer, status int) error {
		if status != StatusNormal {
			return notReady(op, status)
		}
		img, _, err := raster.Decode(data)
		if err != nil {
			return newError(KindImageDecodeFailed, op, "Failed to decode image", err)
		}
		if err := p.PrintBitmap(img); err != nil {
			return printerError(op, err)
		}
		return t.submit(ctx, op, p)
	})
}

// PrintImageWithThreshold prints an image converted to black and white with
// an explicit gray threshold. A threshold <= 0 means 128.
func (t *Terminal) PrintImageWithThreshold(ctx context.Context, data []byte, threshold int) error {
	const op = "PrintImageWithThreshold"

	if threshold <= 0 {
		threshold = raster.DefaultThreshold
	}
	return t.withPrinter(ctx, op, func(p dal.Printer, status int) error {
		if status != StatusNormal {
			return notReady(op, status)
		}
		img, _, err := raster.Decode(data)
		if err != nil {
			return newError(KindImageDecodeFailed, op, "Failed to decode image", err)
		}
		if err := p.PrintBitmapWithMonoThreshold(img, threshold); err != nil {
			return printerError(op, err)
		}
		return t.submit(ctx, op, p)
	})
}

// CutPaper cuts the paper. Printers without a cutter are detected up front
// and never receive a cut command.
func (t *Terminal) CutPaper(ctx context.Context, mode int) error {
	const op = "CutPaper"

	return t.withPrinter(ctx, op, func(p dal.Printer, _ int) error {
		cutMode, err := p.CutMode()
		if err != nil {
			return cutError(op, err)
		}
		if cutMode == -1 {
			return newStatusError(KindCutUnsupported, op, "This device does not support paper cutting", StatusCutUnsupported)
		}
		if err := p.CutPaper(mode); err != nil {
			return cutError(op, err)
		}
		return nil
	})
}

func cutError(op string, err error) error {
	if isCutNotSupported(err) {
		e := newStatusError(KindCutUnsupported, op, "Paper cutting not supported on this device", StatusCutUnsupported)
		e.Cause = err
		return e
	}
	return printerError(op, err)
}

// IsCutSupported reports whether the printer has a cutter.
func (t *Terminal) IsCutSupported(ctx context.Context) (bool, error) {
	supported := false
	err := t.withPrinter(ctx, "IsCutSupported", func(p dal.Printer, _ int) error {
		mode, err := p.CutMode()
		if err != nil {
			if isCutNotSupported(err) {
				return nil
			}
			return printerError("IsCutSupported", err)
		}
		supported = mode != -1
		return nil
	})
	return supported, err
}

// FeedPaper advances the paper by pixels dots, DefaultFeedPixels when <= 0.
func (t *Terminal) FeedPaper(ctx context.Context, pixels int) error {
	if pixels <= 0 {
		pixels = DefaultFeedPixels
	}
	return t.withPrinter(ctx, "FeedPaper", func(p dal.Printer, _ int) error {
		if err := p.Step(pixels); err != nil {
			return printerError("FeedPaper", err)
		}
		return nil
	})
}

// PrinterStatus returns the raw status code and its description.
func (t *Terminal) PrinterStatus(ctx context.Context) (int, string, error) {
	var code int
	err := t.withPrinter(ctx, "PrinterStatus", func(_ dal.Printer, status int) error {
		code = status
		return nil
	})
	if err != nil {
		return 0, "", err
	}
	return code, StatusMessage(code), nil
}
