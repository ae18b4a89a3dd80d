package signing

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// generateEntity creates a throwaway key pair for signature tests.
func generateEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity("Passport Signer", "test", "signer@example.com", nil)
	if err != nil {
		t.Fatalf("openpgp.NewEntity() error: %v", err)
	}
	return entity
}

func armoredPrivateKey(t *testing.T, entity *openpgp.Entity) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatalf("armor.Encode() error: %v", err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		t.Fatalf("SerializePrivate() error: %v", err)
	}
	w.Close()
	return buf.String()
}

// ---------------------------------------------------------------------------
// Sign / Verify
// ---------------------------------------------------------------------------

func TestSignVerify_RoundTrip(t *testing.T) {
	s, err := NewSigner(generateEntity(t))
	if err != nil {
		t.Fatalf("NewSigner() error: %v", err)
	}
	doc := []byte(`{"modelDetails":[{"modelId":"M1"}]}`)

	sig, err := s.Sign(doc)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !strings.Contains(sig, "BEGIN PGP SIGNATURE") {
		t.Errorf("signature is not armored: %q", sig)
	}

	pub, err := s.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error: %v", err)
	}
	if err := Verify(pub, doc, []byte(sig)); err != nil {
		t.Errorf("Verify() error: %v", err)
	}
}

func TestVerify_TamperedDocument(t *testing.T) {
	s, _ := NewSigner(generateEntity(t))
	sig, _ := s.Sign([]byte(`{"a":1}`))
	pub, _ := s.PublicKey()

	if err := Verify(pub, []byte(`{"a":2}`), []byte(sig)); err == nil {
		t.Error("Verify() = nil for a modified document")
	}
}

func TestVerify_WrongKey(t *testing.T) {
	s, _ := NewSigner(generateEntity(t))
	other, _ := NewSigner(generateEntity(t))
	sig, _ := s.Sign([]byte("doc"))
	pub, _ := other.PublicKey()

	if err := Verify(pub, []byte("doc"), []byte(sig)); err == nil {
		t.Error("Verify() = nil for a signature from another key")
	}
}

func TestVerify_EmptyInputs(t *testing.T) {
	tests := map[string]struct {
		pub  string
		data []byte
		sig  []byte
	}{
		"no key":       {"", []byte("d"), []byte("s")},
		"no data":      {"k", nil, []byte("s")},
		"no signature": {"k", []byte("d"), nil},
		"bad key":      {"not a key", []byte("d"), []byte("s")},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if err := Verify(tt.pub, tt.data, tt.sig); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Key loading
// ---------------------------------------------------------------------------

func TestParsePrivateKey(t *testing.T) {
	entity := generateEntity(t)
	s, err := ParsePrivateKey(armoredPrivateKey(t, entity), nil)
	if err != nil {
		t.Fatalf("ParsePrivateKey() error: %v", err)
	}
	if got, want := s.KeyID(), strings.ToUpper(entity.PrimaryKey.KeyIdString()); got != want {
		t.Errorf("KeyID() = %s, want %s", got, want)
	}
	if len(s.KeyID()) != 16 {
		t.Errorf("KeyID() length = %d, want 16", len(s.KeyID()))
	}
}

func TestParsePrivateKey_PublicOnly(t *testing.T) {
	s, _ := NewSigner(generateEntity(t))
	pub, _ := s.PublicKey()
	if _, err := ParsePrivateKey(pub, nil); err != ErrNoPrivateKey {
		t.Errorf("ParsePrivateKey(public) error = %v, want %v", err, ErrNoPrivateKey)
	}
}

func TestLoadPrivateKey_MissingFile(t *testing.T) {
	if _, err := LoadPrivateKey(t.TempDir()+"/missing.asc", nil); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestNewSigner_Nil(t *testing.T) {
	if _, err := NewSigner(nil); err != ErrNoPrivateKey {
		t.Errorf("NewSigner(nil) error = %v, want %v", err, ErrNoPrivateKey)
	}
}
