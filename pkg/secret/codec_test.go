package secret_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/tracefab/tracefab/pkg/domain"
	"github.com/tracefab/tracefab/pkg/secret"
	"github.com/tracefab/tracefab/pkg/utils/cmp"
	"github.com/tracefab/tracefab/pkg/utils/try"
)

func TestCodec_PlainRoundtrip(t *testing.T) {
	testee := secret.New()

	values := map[string]string{
		"username": "mlops",
		"password": "hunter2",
		"token":    "",
	}

	encoded := try.To(testee.Encode(values)).OrFatal(t)
	decoded := try.To(testee.Decode(encoded)).OrFatal(t)

	if !cmp.MapEq(values, decoded) {
		t.Errorf("roundtrip\n- got: %v\n- want: %v", decoded, values)
	}
}

func TestCodec_EncryptedRoundtrip(t *testing.T) {
	engine := try.To(secret.NewAgeEngine("the eagle has landed")).OrFatal(t)
	testee := secret.New(secret.WithEngine(engine))

	values := map[string]string{"api-key": "sk-000000"}

	encoded := try.To(testee.Encode(values)).OrFatal(t)
	decoded := try.To(testee.Decode(encoded)).OrFatal(t)

	if !cmp.MapEq(values, decoded) {
		t.Errorf("roundtrip\n- got: %v\n- want: %v", decoded, values)
	}

	if strings.Contains(encoded, "sk-000000") {
		t.Errorf("encoded payload leaks the plaintext: %s", encoded)
	}
}

func TestCodec_WrongPassphrase(t *testing.T) {
	sealer := try.To(secret.NewAgeEngine("correct horse")).OrFatal(t)
	opener := try.To(secret.NewAgeEngine("battery staple")).OrFatal(t)

	encoded := try.To(
		secret.New(secret.WithEngine(sealer)).Encode(map[string]string{"k": "v"}),
	).OrFatal(t)

	if _, err := secret.New(secret.WithEngine(opener)).Decode(encoded); err == nil {
		t.Error("decoding with the wrong passphrase should fail")
	}
}

func TestCodec_CrossMode(t *testing.T) {
	engine := try.To(secret.NewAgeEngine("passphrase")).OrFatal(t)
	encrypting := secret.New(secret.WithEngine(engine))
	plain := secret.New()

	values := map[string]string{"k": "v"}

	t.Run("plain payload is rejected by the encrypting codec", func(t *testing.T) {
		encoded := try.To(plain.Encode(values)).OrFatal(t)
		if _, err := encrypting.Decode(encoded); err == nil {
			t.Error("decoding should fail")
		}
	})

	t.Run("encrypted payload is rejected by the plain codec", func(t *testing.T) {
		encoded := try.To(encrypting.Encode(values)).OrFatal(t)
		if _, err := plain.Decode(encoded); err == nil {
			t.Error("decoding should fail")
		}
	})
}

func TestCodec_TooLarge(t *testing.T) {
	testee := secret.New()

	values := map[string]string{
		"blob": strings.Repeat("x", secret.Capacity),
	}

	if _, err := testee.Encode(values); !errors.Is(err, domain.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got: %v", err)
	}
}

func TestNewAgeEngine_EmptyPassphrase(t *testing.T) {
	if _, err := secret.NewAgeEngine(""); !errors.Is(err, domain.ErrMisconfigured) {
		t.Errorf("expected ErrMisconfigured, got: %v", err)
	}
}
