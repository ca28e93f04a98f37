package pos

import (
	"context"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

// Printer settings persist on the printer until the next initialisation.

func (t *Terminal) applySetting(ctx context.Context, op string, apply func(p dal.Printer) error) error {
	return t.withPrinter(ctx, op, func(p dal.Printer, _ int) error {
		if err := apply(p); err != nil {
			return printerError(op, err)
		}
		return nil
	})
}

func (t *Terminal) SetFontSize(ctx context.Context, size string) error {
	ascii, ext := fontsFor(size)
	return t.applySetting(ctx, "SetFontSize", func(p dal.Printer) error {
		return p.FontSet(ascii, ext)
	})
}

func (t *Terminal) SetFontPath(ctx context.Context, path string) error {
	if path == "" {
		return newError(KindInvalidArgument, "SetFontPath", "Font path is required", nil)
	}
	return t.applySetting(ctx, "SetFontPath", func(p dal.Printer) error {
		return p.SetFontPath(path)
	})
}

func (t *Terminal) SetDoubleHeight(ctx context.Context, ascii, local bool) error {
	return t.applySetting(ctx, "SetDoubleHeight", func(p dal.Printer) error {
		return p.DoubleHeight(ascii, local)
	})
}

func (t *Terminal) SetDoubleWidth(ctx context.Context, ascii, local bool) error {
	return t.applySetting(ctx, "SetDoubleWidth", func(p dal.Printer) error {
		return p.DoubleWidth(ascii, local)
	})
}

func (t *Terminal) SetLeftIndent(ctx context.Context, indent int) error {
	return t.applySetting(ctx, "SetLeftIndent", func(p dal.Printer) error {
		return p.LeftIndent(indent)
	})
}

func (t *Terminal) SetInvert(ctx context.Context, enabled bool) error {
	return t.applySetting(ctx, "SetInvert", func(p dal.Printer) error {
		return p.Invert(enabled)
	})
}

// SetSpacing sets the word and line spacing in dots.
func (t *Terminal) SetSpacing(ctx context.Context, wordSpace, lineSpace int) error {
	return t.applySetting(ctx, "SetSpacing", func(p dal.Printer) error {
		return p.SpaceSet(byte(wordSpace), byte(lineSpace))
	})
}

// PresetCutPaper selects the cut the printer performs after each job.
func (t *Terminal) PresetCutPaper(ctx context.Context, mode int) error {
	return t.applySetting(ctx, "PresetCutPaper", func(p dal.Printer) error {
		return p.PresetCutPaper(mode)
	})
}

// CutMode returns the printer's cut mode, -1 when it has no cutter.
func (t *Terminal) CutMode(ctx context.Context) (int, error) {
	var mode int
	err := t.applySetting(ctx, "CutMode", func(p dal.Printer) error {
		m, err := p.CutMode()
		mode = m
		return err
	})
	return mode, err
}

// DotLine returns the number of dots per printed line.
func (t *Terminal) DotLine(ctx context.Context) (int, error) {
	var dots int
	err := t.applySetting(ctx, "DotLine", func(p dal.Printer) error {
		d, err := p.DotLine()
		dots = d
		return err
	})
	return dots, err
}
