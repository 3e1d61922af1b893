package webserver

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// editors tend to write a file in several steps
const reloadDelay = 100 * time.Millisecond

// watchTemplates clears the template cache and renders all sessions again whenever a file in
// the template directory changes, until ctx is done.
func (s *Server) watchTemplates(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watching templates")
	}
	if err := watcher.Add(s.config.TemplateDir); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "watching %s", s.config.TemplateDir)
	}
	glog.V(1).Infof("webgui: watching %s for template changes", s.config.TemplateDir)

	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					glog.V(1).Infof("webgui: template %s changed", event.Name)
					pending = time.After(reloadDelay)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				glog.Warningf("webgui: template watcher: %s", err)
			case <-pending:
				pending = nil
				s.reload()
			}
		}
	}()
	return nil
}

func (s *Server) reload() {
	s.renderer.ClearCache()
	for _, e := range s.Endpoints() {
		e.Rerender()
	}
}
