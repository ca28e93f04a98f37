package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// TextOptions mirrors the option map of printText. Unset pointer fields are
// not applied.
type TextOptions struct {
	FontSize    string `json:"fontSize,omitempty"`
	GrayLevel   *int   `json:"grayLevel,omitempty"`
	LineSpacing *int   `json:"lineSpacing,omitempty"`
	CharSpacing *int   `json:"charSpacing,omitempty"`
	// Alignment is 0 left, 1 center, 2 right.
	Alignment int    `json:"alignment,omitempty"`
	Charset   string `json:"charset,omitempty"`
}

type PrintTextRequest struct {
	Text    string      `json:"text"`
	Options TextOptions `json:"options"`
}

type ImageOptions struct {
	GrayThreshold int `json:"grayThreshold,omitempty"`
}

// PrintImageRequest is the payload of printImage and
// printBitmapWithMonoThreshold. pixelData is accepted as an alias of
// imageData.
type PrintImageRequest struct {
	ImageData     ImageData    `json:"imageData"`
	PixelData     ImageData    `json:"pixelData,omitempty"`
	Options       ImageOptions `json:"options"`
	GrayThreshold int          `json:"grayThreshold,omitempty"`
}

// Image returns the encoded image, whichever key carried it.
func (r PrintImageRequest) Image() []byte {
	if len(r.ImageData) > 0 {
		return r.ImageData
	}
	return r.PixelData
}

// Threshold returns the requested gray threshold, 0 when none was given.
func (r PrintImageRequest) Threshold() int {
	if r.GrayThreshold > 0 {
		return r.GrayThreshold
	}
	return r.Options.GrayThreshold
}

// ModeRequest is the payload of cutPaper and presetCutPaper.
type ModeRequest struct {
	Mode *int `json:"mode"`
}

type FeedRequest struct {
	Pixels *int `json:"pixels"`
}

type FontSizeRequest struct {
	FontSize string `json:"fontSize"`
}

type FontPathRequest struct {
	FontPath string `json:"fontPath"`
}

// DoubleRequest is the payload of setDoubleHeight and setDoubleWidth.
type DoubleRequest struct {
	IsAscDouble   bool `json:"isAscDouble"`
	IsLocalDouble bool `json:"isLocalDouble"`
}

type LeftIndentRequest struct {
	Indent int `json:"indent"`
}

type InvertRequest struct {
	IsInvert bool `json:"isInvert"`
}

type SpacingRequest struct {
	WordSpace int `json:"wordSpace"`
	LineSpace int `json:"lineSpace"`
}

// CancelWaitRequest cancels one wait job, or all of them when JobID is
// empty.
type CancelWaitRequest struct {
	JobID string `json:"jobId,omitempty"`
}

// ImageData is raw image bytes. In JSON it is either a base64 string
// (optionally a data URL) or an array of byte values. Negative values are
// read as signed bytes.
type ImageData []byte

func (d *ImageData) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*d = nil
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
			s = s[i+len(";base64,"):]
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("imageData: %w", err)
		}
		*d = raw
		return nil

	case '[':
		var values []int
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("imageData: %w", err)
		}
		raw := make([]byte, len(values))
		for i, v := range values {
			if v < -128 || v > 255 {
				return fmt.Errorf("imageData: value %d at index %d is not a byte", v, i)
			}
			raw[i] = byte(v)
		}
		*d = raw
		return nil
	}
	return fmt.Errorf("imageData must be a base64 string or a byte array")
}

// MarshalJSON renders the bytes as base64.
func (d ImageData) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(d))
}
