package pos

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

// TransportKeys are the key A values tried, in order, to unlock block 0.
var TransportKeys = [][]byte{
	{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
}

var errNoCardInField = errors.New("no card in field")

// IdentifyCard detects a card with bounded retries, classifies it from its
// UID and tries to read its manufacturer block. The block read outcome is
// recorded in the result and never fails the identification.
func (t *Terminal) IdentifyCard(ctx context.Context) (*CardResult, error) {
	const op = "IdentifyCard"

	if err := t.checkContext(op); err != nil {
		return nil, err
	}
	if err := t.checkPlatform(op); err != nil {
		return nil, err
	}

	var result *CardResult
	err := t.withReader(ctx, op, func(picc dal.Picc) error {
		info, err := t.detectWithRetry(ctx, picc, dal.DetectOnlyM)
		if err != nil {
			return err
		}
		if len(info.Serial) == 0 {
			return newError(KindDetectionFailed, op, "No serial information available", nil)
		}

		result = &CardResult{
			Identity:   IdentifyUID(info.Serial),
			Info:       info,
			Mode:       dal.DetectOnlyM,
			DetectedAt: time.Now(),
		}
		result.Manufacturer = t.readManufacturerBlock(picc, info.Serial)
		return nil
	})
	if err != nil {
		if !IsKind(err, KindNoCardDetected) {
			t.logger.Warn().Err(err).Msg("card identification failed")
		}
		return nil, err
	}

	t.lastCard.Store(result)
	t.logger.Info().
		Str("uid", result.Identity.UIDHex()).
		Str("type", result.Identity.TypeLabel).
		Str("manufacturer", result.Identity.Manufacturer).
		Msg("card identified")
	return result, nil
}

// detectWithRetry calls Detect up to DetectAttempts times with a constant
// pause between attempts and none after the last. Detect errors count as
// failed attempts.
func (t *Terminal) detectWithRetry(ctx context.Context, picc dal.Picc, mode dal.DetectMode) (*dal.CardInfo, error) {
	var info *dal.CardInfo
	attempt := 0

	operation := func() error {
		attempt++
		ci, err := picc.Detect(mode)
		if err != nil {
			t.logger.Debug().Err(err).Int("attempt", attempt).Msg("detect failed")
			return err
		}
		if ci == nil {
			return errNoCardInField
		}
		info = ci
		return nil
	}

	retries := uint64(t.cfg.DetectAttempts - 1)
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(t.cfg.DetectRetryDelay), retries),
		ctx,
	)
	err := backoff.RetryNotify(operation, b, func(err error, next time.Duration) {
		t.logger.Debug().
			Int("attempt", attempt).
			Dur("next", next).
			Str("mode", mode.String()).
			Msg("no card yet, retrying")
	})
	if err == nil && info != nil {
		return info, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, newError(KindNoCardDetected, "detectWithRetry", "No card detected", err)
}

// readManufacturerBlock reads block 0 without authentication and falls back
// to the transport keys when that fails or returns nothing.
func (t *Terminal) readManufacturerBlock(picc dal.Picc, serial []byte) *ManufacturerData {
	md := &ManufacturerData{}

	data, err := picc.M1Read(0)
	switch {
	case err == nil && len(data) > 0:
		md.Data = data
		return md
	case err != nil:
		md.Error = "Block 0 requires authentication: " + err.Error()
	default:
		md.Error = "Block 0 is protected or returned no data"
	}

	md.Auth = t.readBlock0WithAuth(picc, serial)
	return md
}

func (t *Terminal) readBlock0WithAuth(picc dal.Picc, serial []byte) *AuthResult {
	if len(serial) == 0 {
		return &AuthResult{Err: newError(KindDetectionFailed, "readBlock0WithAuth", "No serial info available", nil)}
	}

	for i, key := range TransportKeys {
		if err := picc.M1Auth(dal.KeyTypeA, 0, key, serial); err != nil {
			t.logger.Debug().Err(err).Int("keyIndex", i).Msg("block 0 authentication rejected")
			continue
		}
		data, err := picc.M1Read(0)
		if err != nil || len(data) == 0 {
			t.logger.Debug().Err(err).Int("keyIndex", i).Msg("authenticated block 0 read failed")
			continue
		}
		return &AuthResult{Success: true, KeyIndex: i, Data: data}
	}

	return &AuthResult{
		Err: newError(KindAuthenticationExhausted, "readBlock0WithAuth", "Block 0 is fully protected with custom keys", nil),
	}
}

// CheckPresence opens the reader, runs a single detect and closes it again.
// Any failure reads as "no card".
func (t *Terminal) CheckPresence(ctx context.Context) (bool, error) {
	const op = "CheckPresence"

	if err := t.checkContext(op); err != nil {
		return false, err
	}

	present := false
	err := t.withReader(ctx, op, func(picc dal.Picc) error {
		info, err := picc.Detect(dal.DetectOnlyM)
		present = err == nil && info != nil
		return nil
	})
	return present, err
}

// WaitForCard polls for a card every PollInterval until one is present, then
// identifies it. It returns ctx.Err() once ctx is cancelled. Errors that
// retrying cannot fix end the wait early.
func (t *Terminal) WaitForCard(ctx context.Context) (*CardResult, error) {
	if err := t.checkContext("WaitForCard"); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		present, err := t.CheckPresence(ctx)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case IsKind(err, KindHandleUnavailable), IsKind(err, KindContextMissing):
			return nil, err
		case present:
			result, err := t.IdentifyCard(ctx)
			if IsKind(err, KindNoCardDetected) && ctx.Err() == nil {
				// The card left between the presence check and the identification.
				break
			}
			return result, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ModeAttempt is the outcome of probing one detection mode.
type ModeAttempt struct {
	Mode dal.DetectMode
	Info *dal.CardInfo
	Err  error
}

func (a ModeAttempt) Map() map[string]any {
	m := map[string]any{
		"mode":     a.Mode.String(),
		"detected": a.Info != nil,
	}
	if a.Err != nil {
		m["error"] = a.Err.Error()
	}
	if a.Info != nil {
		m["uid"] = HexString(a.Info.Serial)
	}
	return m
}

// ModeScan reports every detection mode tried by TryAllModes.
type ModeScan struct {
	Attempts []ModeAttempt
	// Best is the first mode that found a card, nil when none did.
	Best *ModeAttempt
	Card *CardIdentity
}

func (p *ModeScan) Map() map[string]any {
	attempts := make([]map[string]any, len(p.Attempts))
	for i, a := range p.Attempts {
		attempts[i] = a.Map()
	}
	m := map[string]any{"modes": attempts}
	if p.Best != nil {
		m["bestMode"] = p.Best.Mode.String()
	}
	if p.Card != nil {
		m["cardData"] = map[string]any{
			"uid":       p.Card.UIDHex(),
			"uidLength": len(p.Card.UID),
			"cardType":  p.Card.TypeMap(),
		}
	}
	return m
}

// TryAllModes opens the reader once and runs a detect in every mode, to find
// out which technologies see the presented card.
func (t *Terminal) TryAllModes(ctx context.Context) (*ModeScan, error) {
	const op = "TryAllModes"

	if err := t.checkContext(op); err != nil {
		return nil, err
	}

	scan := &ModeScan{}
	err := t.withReader(ctx, op, func(picc dal.Picc) error {
		for _, mode := range dal.AllDetectModes {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := picc.Detect(mode)
			scan.Attempts = append(scan.Attempts, ModeAttempt{Mode: mode, Info: info, Err: err})
			t.logger.Debug().Str("mode", mode.String()).Bool("detected", info != nil).Err(err).Msg("mode tried")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range scan.Attempts {
		a := &scan.Attempts[i]
		if a.Info != nil && len(a.Info.Serial) > 0 {
			scan.Best = a
			id := IdentifyUID(a.Info.Serial)
			scan.Card = &id
			break
		}
	}
	return scan, nil
}
