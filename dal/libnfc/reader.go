// Package libnfc implements the dal card reader on top of libnfc and
// libfreefare, for USB and serial readers such as the ACR122U or PN532
// boards.
package libnfc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
	"github.com/rs/zerolog"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

// enumRetries is how often device enumeration is attempted before giving up.
const enumRetries = 3

// Reader implements dal.Picc for a libnfc device.
type Reader struct {
	conn   string
	logger zerolog.Logger

	mu   sync.Mutex
	dev  nfc.Device
	open bool

	// classic is the MIFARE Classic tag bound by the last detect.
	classic    freefare.ClassicTag
	hasClassic bool
	connected  bool
}

// NewReader creates a reader for the libnfc connection string conn, e.g.
// "pn532_uart:/dev/ttyUSB0". An empty conn selects the first device found.
func NewReader(conn string, logger zerolog.Logger) *Reader {
	return &Reader{conn: conn, logger: logger}
}

func (r *Reader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open {
		return nil
	}

	dev, err := nfc.Open(r.conn)
	if err != nil {
		return dal.NewTransportError("Open", err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return dal.NewTransportError("Open", fmt.Errorf("initiator init: %w", err))
	}

	r.dev = dev
	r.open = true
	r.logger.Debug().Str("device", dev.String()).Str("connection", dev.Connection()).Msg("reader opened")
	return nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return nil
	}
	r.releaseTag()
	r.open = false
	if err := r.dev.Close(); err != nil {
		return dal.NewTransportError("Close", err)
	}
	return nil
}

// Detect polls the modulations of mode once and returns the first card that
// qualifies. In DetectOnlyM the card is also bound for M1Auth and M1Read.
func (r *Reader) Detect(mode dal.DetectMode) (*dal.CardInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return nil, dal.NewNotOpenError("Detect")
	}
	r.releaseTag()

	for _, m := range modulationsFor(mode) {
		targets, err := r.dev.InitiatorListPassiveTargets(m)
		if err != nil {
			return nil, dal.NewTransportError("Detect", err)
		}
		for _, target := range targets {
			info := infoFromTarget(target)
			if !acceptsMode(info, mode) {
				continue
			}
			if mode == dal.DetectOnlyM {
				r.bindClassic(info)
			}
			return info, nil
		}
	}
	return nil, nil
}

// bindClassic looks up the freefare tag for info and keeps it for later
// block access. Failures only leave the card unbound.
func (r *Reader) bindClassic(info *dal.CardInfo) bool {
	tags, err := freefare.GetTags(r.dev)
	if err != nil {
		r.logger.Debug().Err(err).Msg("freefare tag lookup failed")
		return false
	}

	want := uidKey(info.Serial)
	for _, tag := range tags {
		ct, ok := tag.(freefare.ClassicTag)
		if !ok || !strings.EqualFold(ct.UID(), want) {
			continue
		}
		r.classic = ct
		r.hasClassic = true
		info.Technology = classicTagType(int(ct.Type()))
		return true
	}
	return false
}

func (r *Reader) releaseTag() {
	if r.hasClassic && r.connected {
		if err := r.classic.Disconnect(); err != nil {
			r.logger.Debug().Err(err).Msg("tag disconnect failed")
		}
	}
	r.hasClassic = false
	r.connected = false
}

func (r *Reader) connect() error {
	if r.connected {
		return nil
	}
	if err := r.classic.Connect(); err != nil {
		return err
	}
	r.connected = true
	return nil
}

// M1Auth authenticates the sector of block with key. A rejected key halts
// the card, so the tag is reconnected before the next attempt.
func (r *Reader) M1Auth(keyType dal.KeyType, block byte, key []byte, serial []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return dal.NewNotOpenError("M1Auth")
	}
	if len(key) != 6 {
		return &dal.DeviceError{Code: dal.ErrCodeAuthFailed, Op: "M1Auth", Message: fmt.Sprintf("key must be 6 bytes, got %d", len(key))}
	}
	if !r.hasClassic || !strings.EqualFold(r.classic.UID(), uidKey(serial)) {
		r.releaseTag()
		if !r.bindClassic(&dal.CardInfo{Serial: serial}) {
			return dal.NewNoCardError("M1Auth")
		}
	}
	if err := r.connect(); err != nil {
		return dal.NewTransportError("M1Auth", err)
	}

	var k [6]byte
	copy(k[:], key)
	kt := int(freefare.KeyA)
	if keyType == dal.KeyTypeB {
		kt = int(freefare.KeyB)
	}

	if err := r.classic.Authenticate(block, k, kt); err != nil {
		r.classic.Disconnect()
		r.connected = false
		return dal.NewAuthError("M1Auth", err)
	}
	return nil
}

func (r *Reader) M1Read(block byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return nil, dal.NewNotOpenError("M1Read")
	}
	if !r.hasClassic {
		return nil, dal.NewNoCardError("M1Read")
	}
	if err := r.connect(); err != nil {
		return nil, dal.NewTransportError("M1Read", err)
	}

	data, err := r.classic.ReadBlock(block)
	if err != nil {
		r.classic.Disconnect()
		r.connected = false
		return nil, dal.NewReadError("M1Read", err)
	}
	return append([]byte(nil), data[:]...), nil
}

// Version returns the libnfc version.
func Version() string {
	return nfc.Version()
}

// ListDevices returns the connection strings of the attached readers.
// Enumeration is retried since USB readers can take a moment to settle.
func ListDevices() ([]string, error) {
	return listWithRetry(nfc.ListDevices, enumRetries, 100*time.Millisecond)
}

func listWithRetry(list func() ([]string, error), retries int, delay time.Duration) ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < retries; i++ {
		devices, err = list()
		if err == nil {
			return devices, nil
		}
		time.Sleep(delay)
	}
	return nil, dal.NewEnumerationError("ListDevices", fmt.Errorf("after %d attempts: %w", retries, err))
}

// Factory returns a dal.Composite reader factory. Only the internal reader
// exists; every call hands out the same Reader so the workflows can open and
// close it per operation.
func Factory(conn string, logger zerolog.Logger) func(dal.PiccType) (dal.Picc, error) {
	reader := NewReader(conn, logger)
	return func(t dal.PiccType) (dal.Picc, error) {
		if t != dal.PiccInternal {
			return nil, dal.NewNotSupportedError("Picc(" + t.String() + ")")
		}
		return reader, nil
	}
}
