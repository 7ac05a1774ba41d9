// Package auth keeps the admin set and the shared password that lets a
// chat user become an admin with #auth.
package auth

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sipeed/godcmd/pkg/fileutil"
	"github.com/sipeed/godcmd/pkg/logger"
)

var (
	ErrGroupContextDenied = errors.New("do not authenticate in group chats")
	ErrAlreadyAdmin       = errors.New("admin accounts do not need to authenticate")
	ErrMissingPassword    = errors.New("provide a password")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrRateLimited        = errors.New("too many authentication attempts, try again later")
)

// Store is the on-disk form of the godcmd config file.
type Store struct {
	Password   string   `json:"password"`
	AdminUsers []string `json:"admin_users"`
}

// Grant tells which secret an authentication matched.
type Grant int

const (
	GrantPassword Grant = iota
	GrantTemporary
)

type Options struct {
	// MaxAttemptsPerMinute limits #auth attempts per user; 0 disables the limit.
	MaxAttemptsPerMinute int

	// OnAdminAdded is called after a user is persisted as admin, outside the lock.
	OnAdminAdded func(userID string)

	// GlobalAdmins lists admins configured outside the godcmd file, such as
	// the host config's admin_users. They are admins without authenticating.
	GlobalAdmins func() []string

	// Rand is the entropy source for the temporary password.
	Rand io.Reader
}

// Authorizer owns the password, the temporary password and the admin set.
type Authorizer struct {
	path string
	opts Options

	mu           sync.RWMutex
	password     string
	tempPassword string
	admins       []string

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

// New loads the config file at path, creating it with empty defaults when
// absent. With no password configured a 4-digit temporary password is
// generated for this process.
func New(path string, opts Options) (*Authorizer, error) {
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	a := &Authorizer{
		path:     path,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}

	store, err := LoadStore(path)
	if err != nil {
		return nil, err
	}
	a.password = store.Password
	a.admins = store.AdminUsers

	if a.password == "" {
		temp, err := tempPassword(opts.Rand)
		if err != nil {
			return nil, fmt.Errorf("generate temporary password: %w", err)
		}
		a.tempPassword = temp
		logger.InfoCF("auth", "No password configured, temporary password for this run is "+temp, nil)
	}

	logger.InfoCF("auth", "Authorizer ready", map[string]any{
		"admins": len(a.admins),
		"path":   path,
	})
	return a, nil
}

// LoadStore reads the godcmd config file, writing the defaults first if it
// does not exist.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		store := &Store{AdminUsers: []string{}}
		if err := SaveStore(path, store); err != nil {
			return nil, err
		}
		return store, nil
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if store.AdminUsers == nil {
		store.AdminUsers = []string{}
	}
	return &store, nil
}

func SaveStore(path string, store *Store) error {
	data, err := json.MarshalIndent(store, "", "    ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o600)
}

// tempPassword returns 4 distinct decimal digits in random order.
func tempPassword(r io.Reader) (string, error) {
	digits := []byte("0123456789")
	for i := len(digits) - 1; i > 0; i-- {
		j, err := rand.Int(r, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		k := j.Int64()
		digits[i], digits[k] = digits[k], digits[i]
	}
	return string(digits[:4]), nil
}

func (a *Authorizer) IsAdmin(userID string) bool {
	if a.opts.GlobalAdmins != nil && slices.Contains(a.opts.GlobalAdmins(), userID) {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Contains(a.admins, userID)
}

func (a *Authorizer) Admins() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.admins)
}

// TempPassword returns the temporary password, empty once a real one is set.
func (a *Authorizer) TempPassword() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tempPassword
}

// Authenticate checks, in order: group context, existing admin, argument
// count, rate limit, then the password and the temporary password. The
// file is re-read first so a password set by the passwd command applies to
// a running process. On a match userID joins the admin set and the file is
// rewritten. Only failed attempts count against the rate limit.
func (a *Authorizer) Authenticate(userID string, args []string, isGroup bool) (Grant, error) {
	if isGroup {
		return 0, ErrGroupContextDenied
	}
	if a.IsAdmin(userID) {
		return 0, ErrAlreadyAdmin
	}
	if len(args) != 1 {
		return 0, ErrMissingPassword
	}
	limiter := a.limiter(userID)
	if limiter != nil && limiter.Tokens() < 1 {
		logger.WarnCF("auth", "Authentication rate limited", map[string]any{"user": userID})
		return 0, ErrRateLimited
	}

	supplied := args[0]

	a.mu.Lock()
	if err := a.refreshLocked(); err != nil {
		a.mu.Unlock()
		return 0, fmt.Errorf("reload %s: %w", a.path, err)
	}
	var grant Grant
	switch {
	case a.password != "" && supplied == a.password:
		grant = GrantPassword
	case a.tempPassword != "" && supplied == a.tempPassword:
		grant = GrantTemporary
	default:
		a.mu.Unlock()
		if limiter != nil {
			limiter.Allow()
		}
		logger.InfoCF("auth", "Authentication failed", map[string]any{"user": userID})
		return 0, ErrAuthFailed
	}
	if !slices.Contains(a.admins, userID) {
		a.admins = append(a.admins, userID)
	}
	err := a.saveLocked()
	a.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("persist admin users: %w", err)
	}
	if a.opts.OnAdminAdded != nil {
		a.opts.OnAdminAdded(userID)
	}
	logger.InfoCF("auth", "User authenticated as admin", map[string]any{
		"user":      userID,
		"temporary": grant == GrantTemporary,
	})
	return grant, nil
}

// refreshLocked adopts a password written to the file since the last read
// and merges the file's admin users. Once a password exists the temporary
// password is gone for the rest of the process.
func (a *Authorizer) refreshLocked() error {
	store, err := LoadStore(a.path)
	if err != nil {
		return err
	}
	if store.Password != "" && store.Password != a.password {
		a.password = store.Password
		logger.InfoCF("auth", "Password changed on disk, reloaded", map[string]any{"path": a.path})
	}
	if a.password != "" {
		a.tempPassword = ""
	}
	for _, id := range store.AdminUsers {
		if !slices.Contains(a.admins, id) {
			a.admins = append(a.admins, id)
		}
	}
	return nil
}

func (a *Authorizer) saveLocked() error {
	return SaveStore(a.path, &Store{
		Password:   a.password,
		AdminUsers: slices.Clone(a.admins),
	})
}

// limiter returns the per-user attempt limiter, nil when unlimited.
func (a *Authorizer) limiter(userID string) *rate.Limiter {
	n := a.opts.MaxAttemptsPerMinute
	if n <= 0 {
		return nil
	}
	a.limitMu.Lock()
	defer a.limitMu.Unlock()
	l, ok := a.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		a.limiters[userID] = l
	}
	return l
}
