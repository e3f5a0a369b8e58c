package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound is returned when a record is absent from the store.
var ErrNotFound = errors.New("not found")

// PostLookbackDays bounds how far back post lookups search.
const PostLookbackDays = 7

const (
	accountsDir  = "accounts"
	accountsFile = "managed.json"
	postsDir     = "posts"
	commentsDir  = "comments"
	dateLayout   = "2006-01-02"
)

// RecordError reports an unreadable record. Other records are unaffected.
type RecordError struct {
	Path string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("reading record %s: %v", e.Path, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Store persists accounts, posts and comments as JSON files under a data directory.
//
// Layout:
//
//	accounts/managed.json
//	posts/<YYYY-MM-DD>/<username>_<id>.json
//	comments/<status>/<id>.json
type Store struct {
	dir string
	now func() time.Time

	// accountsMu serializes read-modify-write of the account list within this process.
	accountsMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates the directory layout under dir and returns a Store.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	dirs := []string{
		filepath.Join(dir, accountsDir),
		filepath.Join(dir, postsDir),
	}
	for _, status := range Statuses {
		dirs = append(dirs, filepath.Join(dir, commentsDir, string(status)))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// --- Accounts ---

type accountList struct {
	LastUpdated time.Time `json:"last_updated"`
	Accounts    []Account `json:"accounts"`
}

func (s *Store) accountsPath() string {
	return filepath.Join(s.dir, accountsDir, accountsFile)
}

// SaveAccounts replaces the whole account list.
func (s *Store) SaveAccounts(accounts []Account) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	return s.saveAccounts(accounts)
}

func (s *Store) saveAccounts(accounts []Account) error {
	if accounts == nil {
		accounts = []Account{}
	}
	list := accountList{LastUpdated: s.now().UTC(), Accounts: accounts}
	if err := writeJSON(s.accountsPath(), list); err != nil {
		return fmt.Errorf("saving accounts: %w", err)
	}
	return nil
}

// LoadAccounts returns the stored account list. A missing list is empty.
func (s *Store) LoadAccounts() ([]Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	return s.loadAccounts()
}

func (s *Store) loadAccounts() ([]Account, error) {
	var list accountList
	if err := readJSON(s.accountsPath(), &list); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading accounts: %w", err)
	}
	return list.Accounts, nil
}

// UpdateAccounts replaces the account list with fn's result. fn sees the
// current list and runs under the same lock as UpdateAccountLastChecked, so
// merges do not lose poll stamps. An error from fn leaves the list untouched.
func (s *Store) UpdateAccounts(fn func(existing []Account) ([]Account, error)) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	existing, err := s.loadAccounts()
	if err != nil {
		return err
	}
	accounts, err := fn(existing)
	if err != nil {
		return err
	}
	return s.saveAccounts(accounts)
}

// AccountsModTime returns when the account list was last written, or the zero time.
func (s *Store) AccountsModTime() time.Time {
	info, err := os.Stat(s.accountsPath())
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// UpdateAccountLastChecked stamps the named account with the current time.
// Concurrent pollers in separate processes can still lose updates; callers
// serialize polling.
func (s *Store) UpdateAccountLastChecked(username string) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	accounts, err := s.loadAccounts()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	found := false
	for i := range accounts {
		if accounts[i].Username == username {
			accounts[i].LastChecked = &now
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("account %s: %w", username, ErrNotFound)
	}
	return s.saveAccounts(accounts)
}

// --- Posts ---

func (s *Store) postPath(p Post) string {
	day := p.CreatedAt.UTC().Format(dateLayout)
	return filepath.Join(s.dir, postsDir, day, p.Author.Username+"_"+p.ID+".json")
}

// SavePost writes a post under the UTC date of its creation. Re-saving overwrites.
func (s *Store) SavePost(p Post) error {
	path := s.postPath(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating post directory: %w", err)
	}
	if err := writeJSON(path, p); err != nil {
		return fmt.Errorf("saving post %s: %w", p.ID, err)
	}
	return nil
}

// findPost searches the lookback window, newest day first.
func (s *Store) findPost(id string) (string, bool) {
	now := s.now().UTC()
	for i := 0; i < PostLookbackDays; i++ {
		day := now.AddDate(0, 0, -i).Format(dateLayout)
		matches, err := filepath.Glob(filepath.Join(s.dir, postsDir, day, "*_"+id+".json"))
		if err == nil && len(matches) > 0 {
			return matches[0], true
		}
	}
	return "", false
}

// PostExists reports whether a post was stored within the lookback window.
// Older posts count as unseen.
func (s *Store) PostExists(id string) bool {
	_, ok := s.findPost(id)
	return ok
}

// LoadPost returns a post stored within the lookback window.
func (s *Store) LoadPost(id string) (*Post, error) {
	path, ok := s.findPost(id)
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	var p Post
	if err := readJSON(path, &p); err != nil {
		return nil, &RecordError{Path: path, Err: err}
	}
	return &p, nil
}

// --- Comments ---

func (s *Store) commentPath(status Status, id string) string {
	return filepath.Join(s.dir, commentsDir, string(status), id+".json")
}

// SaveComment writes a comment into the partition of its current status.
func (s *Store) SaveComment(c Comment) error {
	if !c.Status.Valid() {
		return fmt.Errorf("saving comment %s: unknown status %q", c.ID, c.Status)
	}
	if err := writeJSON(s.commentPath(c.Status, c.ID), c); err != nil {
		return fmt.Errorf("saving comment %s: %w", c.ID, err)
	}
	return nil
}

// LoadCommentsByStatus returns the comments filed under status in filename order.
// Unreadable records are skipped and reported in the returned error.
func (s *Store) LoadCommentsByStatus(status Status) ([]Comment, error) {
	dir := filepath.Join(s.dir, commentsDir, string(status))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s comments: %w", status, err)
	}

	var comments []Comment
	var errs []error
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		var c Comment
		if err := readJSON(path, &c); err != nil {
			errs = append(errs, &RecordError{Path: path, Err: err})
			continue
		}
		comments = append(comments, c)
	}
	return comments, errors.Join(errs...)
}

// locate returns the status partition currently holding id.
func (s *Store) locate(id string) (Status, bool) {
	for _, status := range Statuses {
		if _, err := os.Stat(s.commentPath(status, id)); err == nil {
			return status, true
		}
	}
	return "", false
}

// LoadComment finds a comment by id, checking partitions in lookup order.
func (s *Store) LoadComment(id string) (*Comment, error) {
	status, ok := s.locate(id)
	if !ok {
		return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	path := s.commentPath(status, id)
	var c Comment
	if err := readJSON(path, &c); err != nil {
		return nil, &RecordError{Path: path, Err: err}
	}
	return &c, nil
}

// UpdateCommentStatus moves a comment to a new status partition. The new record
// is written before the old one is removed, so a failure never leaves the
// comment without a partition. Entering published stamps published_at once.
func (s *Store) UpdateCommentStatus(id string, status Status) (*Comment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("updating comment %s: unknown status %q", id, status)
	}
	c, err := s.LoadComment(id)
	if err != nil {
		return nil, err
	}
	old := c.Status

	c.Status = status
	if status == StatusPublished {
		if c.PublishedAt == nil {
			now := s.now().UTC()
			c.PublishedAt = &now
		}
	} else {
		c.PublishedAt = nil
	}

	if err := s.SaveComment(*c); err != nil {
		return nil, err
	}
	if old != status {
		if err := os.Remove(s.commentPath(old, id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing comment %s from %s: %w", id, old, err)
		}
	}
	return c, nil
}

// DeleteComment removes a comment from whichever partition holds it.
func (s *Store) DeleteComment(id string) error {
	status, ok := s.locate(id)
	if !ok {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err := os.Remove(s.commentPath(status, id)); err != nil {
		return fmt.Errorf("deleting comment %s: %w", id, err)
	}
	return nil
}

// RecentCommentedAuthors returns the author keys of approved and published
// comments generated within window. A non-positive window covers all history.
func (s *Store) RecentCommentedAuthors(window time.Duration) (map[string]bool, error) {
	var cutoff time.Time
	if window > 0 {
		cutoff = s.now().Add(-window)
	}

	authors := make(map[string]bool)
	var errs []error
	for _, status := range []Status{StatusApproved, StatusPublished} {
		comments, err := s.LoadCommentsByStatus(status)
		if err != nil {
			errs = append(errs, err)
		}
		for _, c := range comments {
			if c.PostAuthor == nil || *c.PostAuthor == "" {
				continue
			}
			if window > 0 && !c.GeneratedAt.After(cutoff) {
				continue
			}
			authors[*c.PostAuthor] = true
		}
	}
	return authors, errors.Join(errs...)
}

// CommentCounts returns the number of records in each status partition.
func (s *Store) CommentCounts() (map[Status]int, error) {
	counts := make(map[Status]int, len(Statuses))
	for _, status := range Statuses {
		entries, err := os.ReadDir(filepath.Join(s.dir, commentsDir, string(status)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("counting %s comments: %w", status, err)
		}
		n := 0
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
				n++
			}
		}
		counts[status] = n
	}
	return counts, nil
}

// RecentPublishedCount counts comments published within window.
func (s *Store) RecentPublishedCount(window time.Duration) (int, error) {
	cutoff := s.now().Add(-window)
	comments, err := s.LoadCommentsByStatus(StatusPublished)
	n := 0
	for _, c := range comments {
		if c.PublishedAt != nil && c.PublishedAt.After(cutoff) {
			n++
		}
	}
	return n, err
}

// --- file helpers ---

// writeJSON replaces path atomically via a temp file in the same directory.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
