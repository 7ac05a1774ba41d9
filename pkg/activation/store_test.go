package activation

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{16}$`)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "user.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func countRows(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM wechat_users`).Scan(&n))
	return n
}

func TestParseGenerateArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantDays  int
		wantCount int
		wantErr   bool
	}{
		{name: "days only", args: []string{"30"}, wantDays: 30, wantCount: 1},
		{name: "days and count", args: []string{"10", "5"}, wantDays: 10, wantCount: 5},
		{name: "negative days", args: []string{"-1"}, wantErr: true},
		{name: "zero days", args: []string{"0"}, wantErr: true},
		{name: "not a number", args: []string{"x"}, wantErr: true},
		{name: "bad count", args: []string{"10", "y"}, wantErr: true},
		{name: "zero count", args: []string{"10", "0"}, wantErr: true},
		{name: "no args", args: nil, wantErr: true},
		{name: "too many", args: []string{"1", "2", "3"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, count, err := ParseGenerateArgs(tt.args)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUsage)
				assert.Equal(t, UsageMessage, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDays, days)
			assert.Equal(t, tt.wantCount, count)
		})
	}
}

func TestGenerate_SingleCode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	codes, err := s.Generate(ctx, 30, 1)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Regexp(t, codePattern, codes[0])

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, codes[0], list[0].Code)
	assert.Equal(t, 30, list[0].ValidDays)
	assert.Empty(t, list[0].UserID)
	assert.Empty(t, list[0].ExpiryDate)
}

func TestGenerate_BatchIsUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	codes, err := s.Generate(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, codes, 5)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.Regexp(t, codePattern, c)
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for _, row := range list {
		assert.Equal(t, 10, row.ValidDays)
	}
}

func TestGenerate_InvalidArgumentsInsertNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Generate(ctx, -1, 1)
	assert.ErrorIs(t, err, ErrUsage)
	_, err = s.Generate(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrUsage)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGenerate_CollisionFailsBatchKeepsCommitted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A constant entropy source yields the same code every time.
	s.SetRandSource(bytes.NewReader(make([]byte, 1<<16)))

	codes, err := s.Generate(ctx, 7, 3)
	assert.ErrorIs(t, err, ErrCollision)
	require.Len(t, codes, 1)
	assert.Equal(t, "aaaaaaaaaaaaaaaa", codes[0])
	assert.Equal(t, 1, countRows(t, s))
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	codes, err := s.Generate(ctx, 30, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, "UNKNOWNCODE"), ErrCodeNotFound)
	assert.Equal(t, 2, countRows(t, s))

	require.NoError(t, s.Delete(ctx, codes[0]))
	assert.Equal(t, 1, countRows(t, s))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, codes[1], list[0].Code)

	assert.ErrorIs(t, s.Delete(ctx, codes[0]), ErrCodeNotFound)
}

func TestDelete_BeforeTableExists(t *testing.T) {
	s := openTestStore(t)
	assert.ErrorIs(t, s.Delete(context.Background(), "anything"), ErrCodeNotFound)
}

func TestList_BeforeTableExists(t *testing.T) {
	s := openTestStore(t)
	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFormatCodes(t *testing.T) {
	assert.Equal(t, "activation code: A\nactivation code: B", FormatCodes([]string{"A", "B"}))
	assert.Equal(t, "", FormatCodes(nil))
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
