// Package accounts imports the hand-edited accounts file into the record store.
package accounts

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/xgrowth/internal/store"
)

// ErrDuplicate is returned when adding a handle that is already monitored.
var ErrDuplicate = errors.New("account already exists")

// Entry is one account as written in the accounts file.
type Entry struct {
	Username      string   `yaml:"username"`
	UserID        string   `yaml:"user_id"`
	Priority      string   `yaml:"priority"`
	CheckInterval int      `yaml:"check_interval"`
	Tags          []string `yaml:"tags"`
	Topics        []string `yaml:"topics"`
	Notes         string   `yaml:"notes"`
}

type file struct {
	Accounts []Entry `yaml:"accounts"`
}

// Load reads the entries of an accounts file.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f.Accounts, nil
}

// NormalizeHandle strips whitespace and a leading @.
func NormalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}

// ToAccount converts an entry, applying defaults. now becomes AddedAt.
func (e Entry) ToAccount(now time.Time) (store.Account, error) {
	username := NormalizeHandle(e.Username)
	if username == "" {
		return store.Account{}, errors.New("username is required")
	}

	priority := store.Priority(strings.ToLower(e.Priority))
	switch priority {
	case store.PriorityHigh, store.PriorityMedium, store.PriorityLow:
	case "":
		priority = store.PriorityMedium
	default:
		return store.Account{}, fmt.Errorf("account %s: unknown priority %q", username, e.Priority)
	}

	interval := e.CheckInterval
	if interval <= 0 {
		interval = store.DefaultCheckInterval
	}

	tags := append([]string{}, e.Tags...)
	tags = append(tags, e.Topics...)

	return store.Account{
		Username:      username,
		UserID:        e.UserID,
		Priority:      priority,
		CheckInterval: interval,
		Tags:          tags,
		Notes:         e.Notes,
		AddedAt:       now.UTC(),
	}, nil
}

// Result holds the results of an import.
type Result struct {
	Imported int
	New      int
	Removed  int
	Invalid  int

	accounts []store.Account
}

// Import replaces the stored account list with the file's entries. Accounts
// already stored keep their added_at and last_checked.
func Import(st *store.Store, path string) (*Result, error) {
	entries, err := Load(path)
	if err != nil {
		return nil, err
	}

	r := &Result{}
	err = st.UpdateAccounts(func(existing []store.Account) ([]store.Account, error) {
		*r = merge(existing, entries, time.Now())
		return r.accounts, nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Imported %d account(s) from %s (%d new, %d removed, %d invalid)",
		r.Imported, path, r.New, r.Removed, r.Invalid)
	return r, nil
}

func merge(existing []store.Account, entries []Entry, now time.Time) Result {
	known := make(map[string]store.Account, len(existing))
	for _, a := range existing {
		known[strings.ToLower(a.Username)] = a
	}

	var r Result
	seen := make(map[string]bool)
	for _, e := range entries {
		a, err := e.ToAccount(now)
		if err != nil {
			log.Warnf("Skipping account entry: %v", err)
			r.Invalid++
			continue
		}
		key := strings.ToLower(a.Username)
		if seen[key] {
			log.Warnf("Skipping duplicate account %s", a.Username)
			r.Invalid++
			continue
		}
		seen[key] = true

		if prev, ok := known[key]; ok {
			a.AddedAt = prev.AddedAt
			a.LastChecked = prev.LastChecked
			if a.UserID == "" {
				a.UserID = prev.UserID
			}
		} else {
			r.New++
		}
		r.accounts = append(r.accounts, a)
	}
	for key := range known {
		if !seen[key] {
			r.Removed++
		}
	}
	r.Imported = len(r.accounts)
	return r
}

// SyncIfNewer imports path when it was modified after the stored list. A
// missing file is not an error and imports nothing.
func SyncIfNewer(st *store.Store, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("checking accounts file: %w", err)
	}
	stored := st.AccountsModTime()
	if !stored.IsZero() && !info.ModTime().After(stored) {
		return nil, nil
	}
	if !stored.IsZero() {
		log.Infof("%s has been modified, reloading", path)
	}
	return Import(st, path)
}

// Add appends one account to the stored list.
func Add(st *store.Store, e Entry) (*store.Account, error) {
	a, err := e.ToAccount(time.Now())
	if err != nil {
		return nil, err
	}
	err = st.UpdateAccounts(func(accounts []store.Account) ([]store.Account, error) {
		for _, existing := range accounts {
			if strings.EqualFold(existing.Username, a.Username) {
				return nil, fmt.Errorf("%s: %w", a.Username, ErrDuplicate)
			}
		}
		return append(accounts, a), nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}
