package raster

import (
	"slices"

	"golang.org/x/text/unicode/bidi"
)

// rtlRanges are the Arabic script blocks the printers cannot render natively.
var rtlRanges = [][2]rune{
	{0x0600, 0x06FF}, // Arabic
	{0x0750, 0x077F}, // Arabic Supplement
	{0x08A0, 0x08FF}, // Arabic Extended-A
	{0xFB50, 0xFDFF}, // Arabic Presentation Forms-A
	{0xFE70, 0xFEFF}, // Arabic Presentation Forms-B
}

// IsRTLRune reports whether r belongs to a right-to-left block.
func IsRTLRune(r rune) bool {
	for _, rng := range rtlRanges {
		if r >= rng[0] && r <= rng[1] {
			return true
		}
	}
	return false
}

// ContainsRTL reports whether any character of s is right-to-left.
func ContainsRTL(s string) bool {
	for _, r := range s {
		if IsRTLRune(r) {
			return true
		}
	}
	return false
}

// VisualOrder reorders a single line from logical to display order. The
// Unicode bidi algorithm resolves the directional runs; runs are then
// reversed by embedding level and brackets inside right-to-left runs are
// mirrored. No contextual shaping is performed.
func VisualOrder(line string) string {
	if line == "" || !ContainsRTL(line) {
		return line
	}

	base := baseLevel(line)
	var p bidi.Paragraph
	var opts []bidi.Option
	if base == 1 {
		opts = append(opts, bidi.DefaultDirection(bidi.RightToLeft))
	}
	if _, err := p.SetString(line, opts...); err != nil {
		return line
	}
	order, err := p.Order()
	if err != nil {
		return line
	}

	var runes []rune
	var levels []int
	prevRTL := false
	for i := 0; i < order.NumRuns(); i++ {
		run := order.Run(i)
		text := []rune(run.String())
		runes = append(runes, text...)
		if run.Direction() == bidi.RightToLeft {
			levels = append(levels, repeatLevel(1, len(text))...)
			prevRTL = true
			continue
		}
		levels = append(levels, ltrLevels(text, base, prevRTL)...)
		prevRTL = false
	}

	reorder(runes, levels)
	for i, r := range runes {
		if levels[i]%2 == 1 {
			runes[i] = mirror(r)
		}
	}
	return string(runes)
}

// baseLevel is 1 when the first strong character is right-to-left.
func baseLevel(line string) int {
	for _, r := range line {
		switch props, _ := bidi.LookupRune(r); props.Class() {
		case bidi.L:
			return 0
		case bidi.R, bidi.AL:
			return 1
		}
	}
	return 0
}

// ltrLevels assigns levels to a left-to-right run. In a right-to-left line
// the whole run sits at level 2. In a left-to-right line, numbers that
// directly follow right-to-left text belong to it and sit at level 2 up
// to the first strong left-to-right character; neutrals trailing those
// numbers fall back to the base level.
func ltrLevels(text []rune, base int, prevRTL bool) []int {
	if base == 1 {
		return repeatLevel(2, len(text))
	}
	levels := repeatLevel(0, len(text))
	if !prevRTL {
		return levels
	}

	end := 0
	for i, r := range text {
		props, _ := bidi.LookupRune(r)
		cls := props.Class()
		if cls == bidi.L {
			break
		}
		if cls == bidi.EN || cls == bidi.AN {
			end = i + 1
		}
	}
	for i := 0; i < end; i++ {
		levels[i] = 2
	}
	return levels
}

func repeatLevel(level, n int) []int {
	levels := make([]int, n)
	for i := range levels {
		levels[i] = level
	}
	return levels
}

// reorder reverses, from the highest level down to 1, every maximal
// sequence of runes at or above that level.
func reorder(runes []rune, levels []int) {
	highest := 0
	for _, l := range levels {
		highest = max(highest, l)
	}
	for lvl := highest; lvl >= 1; lvl-- {
		for i := 0; i < len(runes); {
			if levels[i] < lvl {
				i++
				continue
			}
			j := i
			for j < len(runes) && levels[j] >= lvl {
				j++
			}
			slices.Reverse(runes[i:j])
			slices.Reverse(levels[i:j])
			i = j
		}
	}
}

// mirror returns the bracket counterpart of r, or r itself.
func mirror(r rune) rune {
	props, _ := bidi.LookupRune(r)
	if !props.IsBracket() {
		return r
	}
	m := []rune(bidi.ReverseString(string(r)))
	return m[0]
}
