// Package state is the typed view of BlockState and PauseState over the shared key/value store.
// It is the single source of truth every component re-reads after a process restart.
package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// Persisted keys.
const (
	KeyIsBlocking            = "isBlocking"
	KeyBlockedPackages       = "blocked_packages"
	KeyBlockEndTime          = "block_end_time"
	KeyIsPaused              = "is_paused"
	KeyPausedBlockedPackages = "paused_blocked_packages"
	KeyPausedRemainingTime   = "paused_remaining_time"
	KeyPauseEndTime          = "pause_end_time"
	KeyOverlayOptions        = "overlay_options"
)

const (
	valueTrue  = "true"
	valueFalse = "false"
)

// Store reads and writes block and pause state.
type Store struct {
	kv    domain.KeyValueStore
	clock domain.Clock
}

// New creates a Store over kv.
func New(kv domain.KeyValueStore, clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Store{kv: kv, clock: clock}
}

// KV exposes the underlying store for components that keep their own keys.
func (s *Store) KV() domain.KeyValueStore {
	return s.kv
}

// LoadBlock reads the persisted BlockState. Missing keys read as zero values.
func (s *Store) LoadBlock() (domain.BlockState, error) {
	var st domain.BlockState

	blocking, err := s.getBool(KeyIsBlocking)
	if err != nil {
		return st, err
	}
	pkgs, err := s.getPackages(KeyBlockedPackages)
	if err != nil {
		return st, err
	}
	end, err := s.getTime(KeyBlockEndTime)
	if err != nil {
		return st, err
	}

	st.IsBlocking = blocking
	st.BlockedPackages = pkgs
	st.BlockEndTime = end
	return st, nil
}

// SaveBlock persists st. An IsBlocking record must carry packages and a future end time.
func (s *Store) SaveBlock(st domain.BlockState) error {
	values, err := s.blockValues(st)
	if err != nil {
		return err
	}
	return s.kv.SetMany(values)
}

func (s *Store) blockValues(st domain.BlockState) (map[string]string, error) {
	if st.IsBlocking {
		if len(st.BlockedPackages) == 0 {
			return nil, fmt.Errorf("%w: blocking without packages", domain.ErrInvalidBlockState)
		}
		if !st.BlockEndTime.After(s.clock.Now()) {
			return nil, fmt.Errorf("%w: end time %s is not in the future", domain.ErrInvalidBlockState, st.BlockEndTime)
		}
	}

	pkgs, err := encodePackages(st.BlockedPackages)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		KeyIsBlocking:      formatBool(st.IsBlocking),
		KeyBlockedPackages: pkgs,
		KeyBlockEndTime:    formatTime(st.BlockEndTime),
	}, nil
}

// ClearBlock resets BlockState to not blocking.
func (s *Store) ClearBlock() error {
	return s.kv.SetMany(clearedBlock())
}

// ClaimUnblock atomically flips isBlocking from true to false and clears the record.
// Only the caller that wins the swap gets true; every other concurrent or later caller
// sees false, which is what makes redundant unblock triggers safe.
func (s *Store) ClaimUnblock() (bool, error) {
	won, err := s.kv.CompareAndSwap(KeyIsBlocking, valueTrue, valueFalse)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	if err := s.kv.SetMany(clearedBlock()); err != nil {
		return true, err
	}
	return true, nil
}

// IsActive is the isOnBlockingApps predicate: blocking, unexpired and non-empty.
func (s *Store) IsActive() (bool, error) {
	st, err := s.LoadBlock()
	if err != nil {
		return false, err
	}
	return st.Active(s.clock.Now()), nil
}

// LoadPause reads the persisted PauseState.
func (s *Store) LoadPause() (domain.PauseState, error) {
	var p domain.PauseState

	paused, err := s.getBool(KeyIsPaused)
	if err != nil {
		return p, err
	}
	pkgs, err := s.getPackages(KeyPausedBlockedPackages)
	if err != nil {
		return p, err
	}
	remaining, err := s.getInt(KeyPausedRemainingTime)
	if err != nil {
		return p, err
	}
	end, err := s.getTime(KeyPauseEndTime)
	if err != nil {
		return p, err
	}

	p.IsPaused = paused
	p.PausedPackages = pkgs
	p.RemainingBlockTime = time.Duration(remaining) * time.Millisecond
	p.PauseEndTime = end
	return p, nil
}

// SavePause persists p and flips isBlocking to false in the same write,
// so no reader observes both a pause and an active block.
func (s *Store) SavePause(p domain.PauseState) error {
	if p.IsPaused {
		if p.RemainingBlockTime <= 0 {
			return fmt.Errorf("%w: remaining block time %s", domain.ErrInvalidPauseState, p.RemainingBlockTime)
		}
		if len(p.PausedPackages) == 0 {
			return fmt.Errorf("%w: no paused packages", domain.ErrInvalidPauseState)
		}
	}

	pkgs, err := encodePackages(p.PausedPackages)
	if err != nil {
		return err
	}
	values := map[string]string{
		KeyIsPaused:              formatBool(p.IsPaused),
		KeyPausedBlockedPackages: pkgs,
		KeyPausedRemainingTime:   strconv.FormatInt(p.RemainingBlockTime.Milliseconds(), 10),
		KeyPauseEndTime:          formatTime(p.PauseEndTime),
	}
	if p.IsPaused {
		values[KeyIsBlocking] = valueFalse
	}
	return s.kv.SetMany(values)
}

// ClearPause removes all pause keys.
func (s *Store) ClearPause() error {
	return s.kv.Delete(KeyIsPaused, KeyPausedBlockedPackages, KeyPausedRemainingTime, KeyPauseEndTime)
}

// ClaimResume atomically flips is_paused from true to false and writes restore
// as the active block in the same step. The winner owns the Paused -> Active
// transition; a loser writes nothing.
func (s *Store) ClaimResume(restore domain.BlockState) (bool, error) {
	values, err := s.blockValues(restore)
	if err != nil {
		return false, err
	}
	return s.kv.CompareAndSwapWith(KeyIsPaused, valueTrue, valueFalse, values)
}

// SaveOverlayOptions persists the caller's overlay customisation so restarted
// blocking loops render the same overlay.
func (s *Store) SaveOverlayOptions(opts domain.OverlayOptions) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	return s.kv.Set(KeyOverlayOptions, string(data))
}

// LoadOverlayOptions returns the persisted overlay customisation, or the zero value.
func (s *Store) LoadOverlayOptions() (domain.OverlayOptions, error) {
	var opts domain.OverlayOptions
	v, ok, err := s.kv.Get(KeyOverlayOptions)
	if err != nil {
		return opts, fmt.Errorf("read %s: %w", KeyOverlayOptions, err)
	}
	if !ok || v == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(v), &opts); err != nil {
		return opts, fmt.Errorf("parse %s: %w", KeyOverlayOptions, err)
	}
	return opts, nil
}

func clearedBlock() map[string]string {
	return map[string]string{
		KeyIsBlocking:      valueFalse,
		KeyBlockedPackages: "[]",
		KeyBlockEndTime:    "0",
	}
}

func (s *Store) getBool(key string) (bool, error) {
	v, ok, err := s.kv.Get(key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func (s *Store) getInt(key string) (int64, error) {
	v, ok, err := s.kv.Get(key)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) getTime(key string) (time.Time, error) {
	ms, err := s.getInt(key)
	if err != nil || ms == 0 {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (s *Store) getPackages(key string) ([]string, error) {
	v, ok, err := s.kv.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || v == "" {
		return nil, nil
	}
	var pkgs []string
	if err := json.Unmarshal([]byte(v), &pkgs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	if len(pkgs) == 0 {
		return nil, nil
	}
	return pkgs, nil
}

func encodePackages(pkgs []string) (string, error) {
	sorted := domain.SortedPackages(pkgs)
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatBool(b bool) string {
	if b {
		return valueTrue
	}
	return valueFalse
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}
