package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/xgrowth/internal/comments"
	"github.com/TobiSchelling/xgrowth/internal/history"
	"github.com/TobiSchelling/xgrowth/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Lifecycle is the part of the comment controller the dashboard drives.
type Lifecycle interface {
	Approve(id string) (*store.Comment, error)
	Reject(id string) (*store.Comment, error)
	Publish(ctx context.Context, id string) (*store.Comment, error)
}

// History is the audit trail shown on the dashboard.
type History interface {
	LastRun() (*history.Run, error)
	RecentActivity(limit int) ([]history.Activity, error)
	CommentActivity(id string) ([]history.Activity, error)
}

// Server is the HTTP dashboard for reviewing comments.
type Server struct {
	store     *store.Store
	lifecycle Lifecycle
	history   History
	pages     map[string]*template.Template
	mux       *http.ServeMux
	now       func() time.Time

	// actions serializes lifecycle calls per comment.
	actions *keyedMutex
}

// Option configures a Server.
type Option func(*Server)

// WithHistory shows the last run and the activity trail.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.mux.Handle("/metrics", h) }
}

// New creates a new Server.
func New(st *store.Store, lc Lifecycle, opts ...Option) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"ago":      func(t time.Time) string { return ago(time.Since(t)) },
		"datetime": func(t time.Time) string { return t.Local().Format("2006-01-02 15:04") },
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not clash.
	pageNames := []string{"index.html", "comments.html", "comment.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		store:     st,
		lifecycle: lc,
		pages:     pages,
		mux:       http.NewServeMux(),
		now:       time.Now,
		actions:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/comments/", s.handleComments)
	s.mux.HandleFunc("/comment/", s.handleComment)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	counts, err := s.store.CommentCounts()
	if err != nil {
		log.Warnf("Counting comments: %v", err)
	}
	lastHour, _ := s.store.RecentPublishedCount(time.Hour)
	lastDay, _ := s.store.RecentPublishedCount(24 * time.Hour)
	accounts, _ := s.store.LoadAccounts()

	data := map[string]any{
		"Statuses":  statusCounts(counts),
		"LastHour":  lastHour,
		"LastDay":   lastDay,
		"Accounts":  len(accounts),
		"HasRecent": s.history != nil,
	}
	if s.history != nil {
		if run, err := s.history.LastRun(); err == nil {
			data["LastRun"] = run
		}
		if recent, err := s.history.RecentActivity(20); err == nil {
			data["Activity"] = recent
		}
	}
	s.render(w, "index.html", data)
}

type statusCount struct {
	Status store.Status
	Count  int
}

func statusCounts(counts map[store.Status]int) []statusCount {
	out := make([]statusCount, 0, len(store.Statuses))
	for _, st := range store.Statuses {
		out = append(out, statusCount{Status: st, Count: counts[st]})
	}
	return out
}

// commentView pairs a comment with its post for templates.
type commentView struct {
	Comment store.Comment
	Post    *store.Post
	URL     string
}

func (s *Server) view(c store.Comment) commentView {
	v := commentView{Comment: c}
	if p, err := s.store.LoadPost(c.PostID); err == nil {
		v.Post = p
		v.URL = p.Ref().URL()
	} else {
		v.URL = store.PostRef{ID: c.PostID}.URL()
	}
	return v
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	status := store.Status(strings.TrimPrefix(r.URL.Path, "/comments/"))
	if status == "" {
		http.Redirect(w, r, "/comments/"+string(store.StatusPending), http.StatusFound)
		return
	}
	if !status.Valid() {
		http.NotFound(w, r)
		return
	}

	list, err := s.store.LoadCommentsByStatus(status)
	if err != nil {
		log.Warnf("Loading %s comments: %v", status, err)
	}
	views := make([]commentView, 0, len(list))
	for _, c := range list {
		views = append(views, s.view(c))
	}

	s.render(w, "comments.html", map[string]any{
		"Status":   status,
		"Statuses": store.Statuses,
		"Comments": views,
	})
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/comment/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		http.Redirect(w, r, "/comments/", http.StatusFound)
		return
	}

	if action != "" {
		s.handleAction(w, r, id, action)
		return
	}

	c, err := s.store.LoadComment(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"View":       s.view(*c),
		"CanApprove": comments.CanTransition(c.Status, store.StatusApproved),
		"CanReject":  comments.CanTransition(c.Status, store.StatusRejected),
		"CanPublish": comments.CanTransition(c.Status, store.StatusPublished),
		"Error":      r.URL.Query().Get("error"),
	}
	if s.history != nil {
		if trail, err := s.history.CommentActivity(id); err == nil {
			data["Trail"] = trail
		}
	}
	s.render(w, "comment.html", data)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, id, action string) {
	back := "/comment/" + id
	if r.Method != http.MethodPost {
		http.Redirect(w, r, back, http.StatusFound)
		return
	}

	switch action {
	case "approve", "reject", "publish":
	default:
		http.NotFound(w, r)
		return
	}

	if err := s.apply(r.Context(), id, action); err != nil {
		if comments.IsNotFound(err) {
			http.NotFound(w, r)
			return
		}
		log.WithField("comment", id).Warnf("%s failed: %v", action, err)
		http.Redirect(w, r, back+"?error="+template.URLQueryEscaper(err.Error()), http.StatusFound)
		return
	}
	http.Redirect(w, r, back, http.StatusFound)
}

// apply runs one lifecycle action. Requests for the same comment run one
// after the other.
func (s *Server) apply(ctx context.Context, id, action string) error {
	defer s.actions.Lock(id)()

	var err error
	switch action {
	case "approve":
		_, err = s.lifecycle.Approve(id)
	case "reject":
		_, err = s.lifecycle.Reject(id)
	case "publish":
		_, err = s.lifecycle.Publish(ctx, id)
	}
	return err
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Errorf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

// Serve starts the HTTP server on the given port and stops when ctx ends.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()

	log.Infof("Server listening on http://%s", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
