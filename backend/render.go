package webgui

import (
	"html/template"
	"io/fs"
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"
)

// Renderer produces the inner markup of a component. The view wraps it in its element.
type Renderer interface {
	Render(c Component) (string, error)
}

// Templater is implemented by components with an inline html/template.
type Templater interface {
	Template() string
}

// TemplateFiler is implemented by components whose template is a file of the renderer.
type TemplateFiler interface {
	TemplateFile() string
}

// Noder is implemented by components that build their markup with gomponents.
type Noder interface {
	Node() g.Node
}

// TemplateRenderer renders components with html/template or gomponents. Templates are
// executed with the component as data, so they can use its fields and methods (.Subject,
// .Ref, .ElementIndex, .Items for list views) and render children with {{ render .Child }}.
// Parsed templates are cached until ClearCache.
type TemplateRenderer struct {
	files fs.FS

	mu    sync.Mutex
	funcs template.FuncMap
	cache map[string]*template.Template
}

// NewTemplateRenderer creates a renderer loading template files from files, which may be nil
// if no component uses TemplateFile.
func NewTemplateRenderer(files fs.FS) *TemplateRenderer {
	return &TemplateRenderer{
		files: files,
		funcs: template.FuncMap{
			"render": renderFunc,
		},
		cache: make(map[string]*template.Template),
	}
}

func renderFunc(c Component) template.HTML {
	if c == nil || reflect.ValueOf(c).IsNil() {
		return ""
	}
	html, _ := c.Base().render()
	return template.HTML(html)
}

// Funcs adds functions available to templates parsed from now on.
func (r *TemplateRenderer) Funcs(funcs template.FuncMap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, fn := range funcs {
		r.funcs[name] = fn
	}
}

// ClearCache drops the named templates, all of them if no names are given. Inline templates
// are named by the type of their component, like "*main.CounterView".
func (r *TemplateRenderer) ClearCache(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) == 0 {
		r.cache = make(map[string]*template.Template)
		return
	}
	for _, name := range names {
		delete(r.cache, name)
	}
}

func (r *TemplateRenderer) Render(c Component) (string, error) {
	var tmpl *template.Template
	var err error

	switch t := c.(type) {
	case Templater:
		tmpl, err = r.template(reflect.TypeOf(c).String(), func() (string, error) {
			return t.Template(), nil
		})
	case TemplateFiler:
		name := t.TemplateFile()
		tmpl, err = r.template(name, func() (string, error) {
			if r.files == nil {
				return "", errors.Errorf("no template files to load %s from", name)
			}
			buf, err := fs.ReadFile(r.files, name)
			return string(buf), err
		})
	case Noder:
		var b strings.Builder
		if err := t.Node().Render(&b); err != nil {
			return "", err
		}
		return b.String(), nil
	default:
		return "", errors.Errorf("%T has no Template, TemplateFile or Node method", c)
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, c); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (r *TemplateRenderer) template(name string, load func() (string, error)) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tmpl, ok := r.cache[name]; ok {
		return tmpl, nil
	}

	text, err := load()
	if err != nil {
		return nil, errors.Wrapf(err, "loading template %s", name)
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing template %s", name)
	}
	r.cache[name] = tmpl
	return tmpl, nil
}

func errorNode(msg string) g.Node {
	return h.Pre(h.Class("webgui-error"), g.Text(msg))
}
