// Package secret encodes secret value payloads for storage in a text
// column. Values are serialized to JSON and then either encrypted with
// an engine or, when no engine is configured, base64-encoded as-is.
//
// Payloads written in one mode cannot be read in the other: encrypted
// text is not valid base64-JSON and vice versa, so a misconfigured
// deployment fails loudly instead of returning garbage.
package secret

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/tracefab/tracefab/pkg/domain"
)

// Capacity is the largest encoded payload, in bytes, which fits the
// values column.
const Capacity = 65535

// Engine encrypts and decrypts a serialized payload.
type Engine interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

type Codec struct {
	engine Engine
}

type Option func(*Codec) *Codec

// WithEngine makes the codec encrypt payloads instead of merely
// encoding them.
func WithEngine(engine Engine) Option {
	return func(c *Codec) *Codec {
		c.engine = engine
		return c
	}
}

func New(options ...Option) *Codec {
	c := &Codec{}
	for _, opt := range options {
		c = opt(c)
	}
	return c
}

// Encode serializes values for storage.
//
// Returns ErrTooLarge when the result exceeds Capacity.
func (c *Codec) Encode(values map[string]string) (string, error) {
	plaintext, err := json.Marshal(values)
	if err != nil {
		return "", err
	}

	var encoded string
	if c.engine != nil {
		encoded, err = c.engine.Seal(plaintext)
		if err != nil {
			return "", err
		}
	} else {
		encoded = base64.StdEncoding.EncodeToString(plaintext)
	}

	if Capacity < len(encoded) {
		return "", fmt.Errorf(
			"%w: encoded secret values take %d bytes, the limit is %d",
			domain.ErrTooLarge, len(encoded), Capacity,
		)
	}
	return encoded, nil
}

// Decode reverses Encode.
func (c *Codec) Decode(encoded string) (map[string]string, error) {
	var plaintext []byte
	if c.engine != nil {
		opened, err := c.engine.Open(encoded)
		if err != nil {
			return nil, err
		}
		plaintext = opened
	} else {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("stored secret values are not decodable: %w", err)
		}
		plaintext = decoded
	}

	values := map[string]string{}
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("stored secret values are not decodable: %w", err)
	}
	return values, nil
}

// ageEngine encrypts with a passphrase via age scrypt recipients.
// Ciphertext is base64-encoded for the text column.
type ageEngine struct {
	passphrase string
}

var _ Engine = &ageEngine{}

func NewAgeEngine(passphrase string) (*ageEngine, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty encryption passphrase", domain.ErrMisconfigured)
	}
	return &ageEngine{passphrase: passphrase}, nil
}

func (e *ageEngine) Seal(plaintext []byte) (string, error) {
	recipient, err := age.NewScryptRecipient(e.passphrase)
	if err != nil {
		return "", err
	}

	sealed := new(bytes.Buffer)
	w, err := age.Encrypt(sealed, recipient)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(sealed.Bytes()), nil
}

func (e *ageEngine) Open(sealed string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(e.passphrase)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("stored secret values are not decodable: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("stored secret values are not decodable: %w", err)
	}

	return io.ReadAll(r)
}
