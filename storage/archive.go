package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
	"github.com/ruteri/share-recovery-backend/interfaces"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

// ErrSealedArchive is returned by Open when the blob is age encrypted and
// no matching identity was supplied.
var ErrSealedArchive = errors.New("archive is sealed")

// Archiver encodes values with deterministic CBOR and stores them in a
// backend. With recipients configured every blob is sealed with age.
type Archiver struct {
	backend    interfaces.StorageBackend
	recipients []age.Recipient
	log        *slog.Logger
}

// NewArchiver parses recipients as age X25519 public keys ("age1...").
func NewArchiver(backend interfaces.StorageBackend, recipients []string, log *slog.Logger) (*Archiver, error) {
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, key := range recipients {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("invalid archive recipient %q: %w", key, err)
		}
		parsed = append(parsed, recipient)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{backend: backend, recipients: parsed, log: log}, nil
}

// Archive encodes value and stores it under contentType.
func (a *Archiver) Archive(ctx context.Context, contentType interfaces.ContentType, value any) (interfaces.ContentID, error) {
	encoded, err := encMode.Marshal(value)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("encoding %s: %w", contentType, err)
	}

	blob := encoded
	if len(a.recipients) > 0 {
		blob, err = seal(encoded, a.recipients)
		if err != nil {
			return interfaces.ContentID{}, fmt.Errorf("sealing %s: %w", contentType, err)
		}
	}

	id, err := a.backend.Store(ctx, blob, contentType)
	if err != nil {
		return id, err
	}

	a.log.Debug("archived",
		slog.String("type", contentType.String()),
		slog.String("contentID", id.String()),
		slog.Bool("sealed", len(a.recipients) > 0),
		slog.String("backend", a.backend.Name()))
	return id, nil
}

// Open fetches id and decodes it into out. identities are needed only for
// sealed archives.
func (a *Archiver) Open(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType, out any, identities ...age.Identity) error {
	blob, err := a.backend.Fetch(ctx, id, contentType)
	if err != nil {
		return err
	}
	if interfaces.ComputeID(blob) != id {
		return fmt.Errorf("archive %s failed integrity check", id)
	}

	if isSealed(blob) {
		if len(identities) == 0 {
			return ErrSealedArchive
		}
		reader, err := age.Decrypt(bytes.NewReader(blob), identities...)
		if err != nil {
			return fmt.Errorf("unsealing %s: %w", id, err)
		}
		if blob, err = io.ReadAll(reader); err != nil {
			return fmt.Errorf("unsealing %s: %w", id, err)
		}
	}

	return decMode.Unmarshal(blob, out)
}

func seal(plaintext []byte, recipients []age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// age's binary format always starts with its version line.
var ageHeader = []byte("age-encryption.org/v1\n")

func isSealed(blob []byte) bool {
	return bytes.HasPrefix(blob, ageHeader)
}

var _ interfaces.Archiver = (*Archiver)(nil)
