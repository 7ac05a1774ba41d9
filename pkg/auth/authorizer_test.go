package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthorizer(t *testing.T, store *Store, opts Options) (*Authorizer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "godcmd", "config.json")
	if store != nil {
		require.NoError(t, SaveStore(path, store))
	}
	a, err := New(path, opts)
	require.NoError(t, err)
	return a, path
}

func readStore(t *testing.T, path string) Store {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var s Store
	require.NoError(t, json.Unmarshal(data, &s))
	return s
}

func TestNew_CreatesDefaultFile(t *testing.T) {
	a, path := newTestAuthorizer(t, nil, Options{})

	s := readStore(t, path)
	assert.Equal(t, "", s.Password)
	assert.Equal(t, []string{}, s.AdminUsers)

	temp := a.TempPassword()
	require.Len(t, temp, 4)
	seen := map[rune]bool{}
	for _, r := range temp {
		assert.True(t, r >= '0' && r <= '9', "non digit %q", r)
		assert.False(t, seen[r], "repeated digit in %q", temp)
		seen[r] = true
	}
}

func TestNew_NoTempPasswordWhenConfigured(t *testing.T) {
	a, _ := newTestAuthorizer(t, &Store{Password: "hunter22"}, Options{})
	assert.Empty(t, a.TempPassword())
}

func TestNew_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := New(path, Options{})
	assert.Error(t, err)
}

func TestAuthenticate_WithPassword(t *testing.T) {
	var synced []string
	a, path := newTestAuthorizer(t, &Store{Password: "hunter22"}, Options{
		OnAdminAdded: func(id string) { synced = append(synced, id) },
	})

	grant, err := a.Authenticate("wxid_a", []string{"hunter22"}, false)
	require.NoError(t, err)
	assert.Equal(t, GrantPassword, grant)
	assert.True(t, a.IsAdmin("wxid_a"))
	assert.Equal(t, []string{"wxid_a"}, synced)
	assert.Equal(t, []string{"wxid_a"}, readStore(t, path).AdminUsers)

	_, err = a.Authenticate("wxid_a", []string{"hunter22"}, false)
	assert.ErrorIs(t, err, ErrAlreadyAdmin)
}

func TestAuthenticate_WithTemporaryPassword(t *testing.T) {
	a, _ := newTestAuthorizer(t, nil, Options{})

	grant, err := a.Authenticate("wxid_a", []string{a.TempPassword()}, false)
	require.NoError(t, err)
	assert.Equal(t, GrantTemporary, grant)
	assert.True(t, a.IsAdmin("wxid_a"))
}

func TestAuthenticate_PasswordWrittenToFileWhileRunning(t *testing.T) {
	a, path := newTestAuthorizer(t, nil, Options{})
	temp := a.TempPassword()
	require.NotEmpty(t, temp)

	// what the passwd command does
	store, err := LoadStore(path)
	require.NoError(t, err)
	store.Password = "secret"
	store.AdminUsers = append(store.AdminUsers, "wxid_cli")
	require.NoError(t, SaveStore(path, store))

	_, err = a.Authenticate("wxid_a", []string{temp}, false)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.False(t, a.IsAdmin("wxid_a"))
	assert.Empty(t, a.TempPassword())

	grant, err := a.Authenticate("wxid_a", []string{"secret"}, false)
	require.NoError(t, err)
	assert.Equal(t, GrantPassword, grant)

	onDisk := readStore(t, path)
	assert.Equal(t, "secret", onDisk.Password)
	assert.ElementsMatch(t, []string{"wxid_cli", "wxid_a"}, onDisk.AdminUsers)
	assert.True(t, a.IsAdmin("wxid_cli"))
}

func TestAuthenticate_SuccessKeepsPasswordOnDisk(t *testing.T) {
	a, path := newTestAuthorizer(t, nil, Options{})
	temp := a.TempPassword()

	require.NoError(t, SaveStore(path, &Store{Password: "secret", AdminUsers: []string{}}))
	_, err := a.Authenticate("wxid_a", []string{"secret"}, false)
	require.NoError(t, err)

	_, err = a.Authenticate("wxid_b", []string{temp}, false)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, "secret", readStore(t, path).Password)
}

func TestAuthenticate_GroupContextNeverMutates(t *testing.T) {
	a, path := newTestAuthorizer(t, &Store{Password: "pw"}, Options{})

	_, err := a.Authenticate("wxid_a", []string{"pw"}, true)
	assert.ErrorIs(t, err, ErrGroupContextDenied)
	assert.False(t, a.IsAdmin("wxid_a"))
	assert.Empty(t, readStore(t, path).AdminUsers)
}

func TestAuthenticate_GroupCheckedBeforeAdmin(t *testing.T) {
	a, _ := newTestAuthorizer(t, &Store{Password: "pw", AdminUsers: []string{"wxid_a"}}, Options{})

	_, err := a.Authenticate("wxid_a", nil, true)
	assert.ErrorIs(t, err, ErrGroupContextDenied)
}

func TestAuthenticate_ArgumentCount(t *testing.T) {
	a, _ := newTestAuthorizer(t, &Store{Password: "pw"}, Options{})

	_, err := a.Authenticate("wxid_a", nil, false)
	assert.ErrorIs(t, err, ErrMissingPassword)
	_, err = a.Authenticate("wxid_a", []string{"pw", "extra"}, false)
	assert.ErrorIs(t, err, ErrMissingPassword)
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	a, _ := newTestAuthorizer(t, &Store{Password: "pw"}, Options{})

	_, err := a.Authenticate("wxid_a", []string{"nope"}, false)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.False(t, a.IsAdmin("wxid_a"))
}

func TestAuthenticate_RateLimited(t *testing.T) {
	a, _ := newTestAuthorizer(t, &Store{Password: "pw"}, Options{MaxAttemptsPerMinute: 2})

	for range 2 {
		_, err := a.Authenticate("wxid_a", []string{"wrong"}, false)
		assert.ErrorIs(t, err, ErrAuthFailed)
	}
	_, err := a.Authenticate("wxid_a", []string{"pw"}, false)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, a.IsAdmin("wxid_a"))

	// Limits are per user.
	_, err = a.Authenticate("wxid_b", []string{"pw"}, false)
	assert.NoError(t, err)
}

func TestAuthenticate_SuccessDoesNotCountAgainstLimit(t *testing.T) {
	a, _ := newTestAuthorizer(t, &Store{Password: "pw"}, Options{MaxAttemptsPerMinute: 1})

	_, err := a.Authenticate("wxid_a", []string{"pw"}, false)
	require.NoError(t, err)
	l := a.limiter("wxid_a")
	require.NotNil(t, l)
	assert.GreaterOrEqual(t, l.Tokens(), 0.99)

	_, err = a.Authenticate("wxid_b", []string{"wrong"}, false)
	assert.ErrorIs(t, err, ErrAuthFailed)
	_, err = a.Authenticate("wxid_b", []string{"pw"}, false)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestLimiter_Unlimited(t *testing.T) {
	a, _ := newTestAuthorizer(t, &Store{Password: "pw"}, Options{})
	assert.Nil(t, a.limiter("wxid_a"))
}

func TestAdminsAreReturnedAsCopy(t *testing.T) {
	a, _ := newTestAuthorizer(t, &Store{AdminUsers: []string{"wxid_a"}}, Options{})

	admins := a.Admins()
	admins[0] = "mutated"
	assert.True(t, a.IsAdmin("wxid_a"))
}

func TestIsAdmin_GlobalAdmins(t *testing.T) {
	global := []string{"owner"}
	a, path := newTestAuthorizer(t, &Store{Password: "pw"}, Options{
		GlobalAdmins: func() []string { return global },
	})

	assert.True(t, a.IsAdmin("owner"))
	assert.False(t, a.IsAdmin("guest"))
	_, err := a.Authenticate("owner", []string{"pw"}, false)
	assert.ErrorIs(t, err, ErrAlreadyAdmin)
	assert.Empty(t, readStore(t, path).AdminUsers)
}
