// Package signing produces and checks OpenPGP detached signatures over
// passport documents using ASCII-armored keys.
package signing

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// ErrNoPrivateKey is returned when a key ring holds no usable private key.
var ErrNoPrivateKey = errors.New("signing: key ring contains no private key")

// Signer signs documents with one OpenPGP entity.
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner creates a signer from an entity that carries a decrypted private key.
func NewSigner(entity *openpgp.Entity) (*Signer, error) {
	if entity == nil || entity.PrivateKey == nil {
		return nil, ErrNoPrivateKey
	}
	if entity.PrivateKey.Encrypted {
		return nil, fmt.Errorf("signing: private key is still encrypted")
	}
	return &Signer{entity: entity}, nil
}

// ParsePrivateKey reads the first private key from an armored key ring and
// decrypts it with passphrase when it is protected.
func ParsePrivateKey(armored string, passphrase []byte) (*Signer, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	for _, entity := range keyring {
		if entity.PrivateKey == nil {
			continue
		}
		if entity.PrivateKey.Encrypted {
			if len(passphrase) == 0 {
				return nil, fmt.Errorf("signing: private key is encrypted and no passphrase was given")
			}
			if err := entity.DecryptPrivateKeys(passphrase); err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
		}
		return NewSigner(entity)
	}
	return nil, ErrNoPrivateKey
}

// LoadPrivateKey reads an armored private key file.
func LoadPrivateKey(path string, passphrase []byte) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ParsePrivateKey(string(data), passphrase)
}

// KeyID returns the primary key id as 16 upper-case hex digits.
func (s *Signer) KeyID() string {
	return fmt.Sprintf("%016X", s.entity.PrimaryKey.KeyId)
}

// Sign returns an ASCII-armored detached signature of data.
func (s *Signer) Sign(data []byte) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.SignatureType, nil)
	if err != nil {
		return "", err
	}
	if err := openpgp.DetachSign(w, s.entity, bytes.NewReader(data), nil); err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// PublicKey returns the signer's public key, armored.
func (s *Signer) PublicKey() (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := s.entity.Serialize(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Verify checks a detached signature, armored or binary, over data against
// an armored public key.
func Verify(publicKeyArmored string, data, signature []byte) error {
	if publicKeyArmored == "" {
		return fmt.Errorf("public key cannot be empty")
	}
	if len(data) == 0 {
		return fmt.Errorf("data to verify cannot be empty")
	}
	if len(signature) == 0 {
		return fmt.Errorf("signature cannot be empty")
	}

	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(publicKeyArmored))
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	decoded := signature
	if block, err := armor.Decode(bytes.NewReader(signature)); err == nil {
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(block.Body); err != nil {
			return fmt.Errorf("failed to read armored signature: %w", err)
		}
		decoded = buf.Bytes()
	}

	if _, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(decoded), nil); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
