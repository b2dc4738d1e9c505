package passkey

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/passkey-gate/internal/model"
)

func testVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := New(Config{
		RPID:     "example.com",
		RPName:   "Passkey Gate",
		RPOrigin: "https://example.com",
	})
	require.NoError(t, err)
	return v
}

func testUser() model.User {
	return model.User{ID: 7, Email: "a@example.com", Name: "Alice", Role: "CLIENT", IsActive: true}
}

func storedCred(id string, count uint32) model.Credential {
	return model.Credential{
		UserID:       7,
		CredentialID: base64.RawURLEncoding.EncodeToString([]byte(id)),
		PublicKey:    []byte("cose-key"),
		SignCount:    count,
		Transports:   `["internal","hybrid"]`,
	}
}

func TestNew_RejectsEmptyRPID(t *testing.T) {
	_, err := New(Config{RPName: "x", RPOrigin: "https://example.com"})
	assert.Error(t, err)
}

func TestRegistrationOptions_CarryTheChallenge(t *testing.T) {
	v := testVerifier(t)

	opts, chal, err := v.RegistrationOptions(testUser(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, chal)

	var doc struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
			RP        struct {
				ID string `json:"id"`
			} `json:"rp"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(opts, &doc))
	assert.Equal(t, chal, doc.PublicKey.Challenge)
	assert.Equal(t, "example.com", doc.PublicKey.RP.ID)
}

func TestRegistrationOptions_ExcludeExisting(t *testing.T) {
	v := testVerifier(t)

	opts, _, err := v.RegistrationOptions(testUser(), []model.Credential{storedCred("known-cred", 3)})
	require.NoError(t, err)

	var doc struct {
		PublicKey struct {
			ExcludeCredentials []struct {
				ID string `json:"id"`
			} `json:"excludeCredentials"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(opts, &doc))
	require.Len(t, doc.PublicKey.ExcludeCredentials, 1)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte("known-cred")), doc.PublicKey.ExcludeCredentials[0].ID)
}

func TestAuthenticationOptions_AllowListMatchesStored(t *testing.T) {
	v := testVerifier(t)

	opts, chal, err := v.AuthenticationOptions(testUser(), []model.Credential{
		storedCred("cred-a", 1),
		storedCred("cred-b", 9),
	})
	require.NoError(t, err)
	require.NotEmpty(t, chal)

	var doc struct {
		PublicKey struct {
			Challenge        string `json:"challenge"`
			AllowCredentials []struct {
				ID string `json:"id"`
			} `json:"allowCredentials"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(opts, &doc))
	assert.Equal(t, chal, doc.PublicKey.Challenge)
	assert.Len(t, doc.PublicKey.AllowCredentials, 2)
}

func TestAuthenticationOptions_FreshChallengeEachCall(t *testing.T) {
	v := testVerifier(t)
	creds := []model.Credential{storedCred("cred-a", 1)}

	_, first, err := v.AuthenticationOptions(testUser(), creds)
	require.NoError(t, err)
	_, second, err := v.AuthenticationOptions(testUser(), creds)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewPrincipal_RejectsCorruptCredentialID(t *testing.T) {
	bad := model.Credential{CredentialID: "!!not-base64url!!"}
	_, err := newPrincipal(testUser(), []model.Credential{bad})
	assert.Error(t, err)
}

func TestPrincipal_StableID(t *testing.T) {
	p, err := newPrincipal(testUser(), nil)
	require.NoError(t, err)
	again, err := newPrincipal(testUser(), nil)
	require.NoError(t, err)
	assert.Equal(t, p.WebAuthnID(), again.WebAuthnID())
	assert.Len(t, p.WebAuthnID(), 8)
	assert.Equal(t, "a@example.com", p.WebAuthnName())
	assert.Equal(t, "Alice", p.WebAuthnDisplayName())
}

func TestFormatAAGUID(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	assert.Equal(t, "01020304-0506-0708-090a-0b0c0d0e0f10", formatAAGUID(raw))
	assert.Empty(t, formatAAGUID(nil))
	assert.Empty(t, formatAAGUID([]byte{1, 2, 3}))
}
