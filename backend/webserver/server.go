// Package webserver serves webgui endpoints to browsers: a page shell per endpoint, the client
// script, and a websocket per page that is handed to the endpoint as its transport.
package webserver

import (
	"context"
	_ "embed"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	uuid "github.com/satori/go.uuid"
	g "maragu.dev/gomponents"
	c "maragu.dev/gomponents/components"
	h "maragu.dev/gomponents/html"

	webgui "github.com/CrimsonAS/webgui/backend"
)

//go:embed static/webgui.js
var clientScript []byte

const (
	tokenCookie    = "webgui_token"
	endpointCookie = "webgui_endpoint"
	// unused page tokens expire after this long
	csrfLifetime = 5 * time.Minute
)

// Server routes browsers to the endpoints added to it.
type Server struct {
	config   *Config
	renderer *webgui.TemplateRenderer
	token    string
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu        sync.Mutex
	endpoints map[string]*webgui.Endpoint
	first     string
	csrf      map[string]time.Time
}

func New(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	} else if err := config.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		endpoints: make(map[string]*webgui.Endpoint),
		csrf:      make(map[string]time.Time),
	}
	if config.TemplateDir != "" {
		if info, err := os.Stat(config.TemplateDir); err != nil || !info.IsDir() {
			return nil, errors.Errorf("template_dir %s is not a directory", config.TemplateDir)
		}
		s.renderer = webgui.NewTemplateRenderer(os.DirFS(config.TemplateDir))
	} else {
		s.renderer = webgui.NewTemplateRenderer(nil)
	}

	switch config.SharedSecret {
	case NoSecret:
	case "":
		u, err := uuid.NewV4()
		if err != nil {
			return nil, errors.Wrap(err, "generating shared secret")
		}
		s.token = u.String()
	default:
		s.token = config.SharedSecret
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /{$}", s.servePage)
	s.mux.HandleFunc("GET /webgui.js", s.serveScript)
	s.mux.HandleFunc("GET /ws", s.serveWebsocket)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /{endpoint}", s.servePage)
	return s, nil
}

// Renderer is the renderer shared by all sessions of the server, for adding template
// functions.
func (s *Server) Renderer() *webgui.TemplateRenderer {
	return s.renderer
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// AddEndpoint serves factory's sessions at /name. The first endpoint is also served at /.
func (s *Server) AddEndpoint(name string, factory webgui.SessionFactory) (*webgui.Endpoint, error) {
	if name == "" || name != url.PathEscape(name) || name == "ws" || name == "metrics" || name == "webgui.js" {
		return nil, errors.Errorf("invalid endpoint name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.endpoints[name]; exists {
		return nil, errors.Errorf("endpoint %s already exists", name)
	}
	e := webgui.NewEndpoint(name, s.config.SingleInstance, factory, s.renderer, s.config.Settings())
	s.endpoints[name] = e
	if s.first == "" {
		s.first = name
	}
	return e, nil
}

func (s *Server) Endpoint(name string) *webgui.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[name]
}

// Endpoints returns all endpoints ordered by name.
func (s *Server) Endpoints() []*webgui.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	endpoints := make([]*webgui.Endpoint, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		endpoints = append(endpoints, e)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name < endpoints[j].Name })
	return endpoints
}

// URL returns the address a browser opens to show endpoint, including the token.
func (s *Server) URL(endpoint string) string {
	u := url.URL{Scheme: "http", Host: s.config.Addr(), Path: "/" + endpoint}
	if s.token != "" {
		u.RawQuery = url.Values{"token": {s.token}}.Encode()
	}
	return u.String()
}

// ListenAndServe serves until ctx is done, then closes all endpoints.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.config.AutoReload {
		if err := s.watchTemplates(ctx); err != nil {
			return err
		}
	}

	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	glog.Infof("webgui: serving on http://%s", listener.Addr())
	err := server.Serve(listener)
	for _, e := range s.Endpoints() {
		e.Close()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// authorized checks the shared secret in the query or the cookie, and renews the cookie.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		if cookie, err := r.Cookie(tokenCookie); err == nil {
			token = cookie.Value
		}
	}
	if token != s.token {
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    s.token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return true
}

func (s *Server) newCSRFToken() string {
	u, _ := uuid.NewV4()
	token := u.String()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for t, created := range s.csrf {
		if now.Sub(created) > csrfLifetime {
			delete(s.csrf, t)
		}
	}
	s.csrf[token] = now
	return token
}

// useCSRFToken consumes a page token; every token opens one websocket.
func (s *Server) useCSRFToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	created, ok := s.csrf[token]
	delete(s.csrf, token)
	return ok && time.Since(created) <= csrfLifetime
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("endpoint")
	if name == "" {
		s.mu.Lock()
		name = s.first
		s.mu.Unlock()
	}
	if s.Endpoint(name) == nil {
		http.NotFound(w, r)
		return
	}
	if !s.authorized(w, r) {
		glog.Warningf("webgui: rejected page request from %s without valid token", r.RemoteAddr)
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     endpointCookie,
		Value:    name,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	})
	wsURL := "/ws?" + url.Values{"endpoint": {name}, "csrf": {s.newCSRFToken()}}.Encode()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.page(wsURL).Render(w); err != nil {
		glog.Errorf("webgui: rendering page of %s failed: %s", name, err)
	}
}

func (s *Server) page(wsURL string) g.Node {
	return c.HTML5(c.HTML5Props{
		Title: s.config.Title,
		Head: []g.Node{
			h.Meta(h.Name("viewport"), h.Content("width=device-width, initial-scale=1")),
			h.Script(h.Src("/webgui.js")),
		},
		Body: []g.Node{
			h.Div(h.ID(webgui.BodyElement), g.Text("Loading...")),
			h.Script(g.Rawf("webgui.connect(%q);", wsURL)),
		},
	})
}

func (s *Server) serveScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Write(clientScript)
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.token != "" {
		cookie, err := r.Cookie(tokenCookie)
		if err != nil || cookie.Value != s.token {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
	}
	if !s.useCSRFToken(r.URL.Query().Get("csrf")) {
		http.Error(w, "invalid csrf token", http.StatusForbidden)
		return
	}
	e := s.Endpoint(r.URL.Query().Get("endpoint"))
	if e == nil {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("webgui: websocket upgrade failed: %s", err)
		return
	}
	if err := e.Serve(r.Context(), newWSTransport(conn, s.config)); err != nil && r.Context().Err() == nil {
		glog.Warningf("webgui: endpoint %s: %s", e.Name, err)
	}
}
