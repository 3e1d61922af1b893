// Package webgui renders a tree of Go components to HTML and keeps it up to date in connected
// browsers, which can call back into the components.
//
// The Go application owns all state. Components render on the server; the frontend only applies
// markup patches and forwards events. All communication runs over one message channel per
// frontend (see Transport); the backend/webserver package provides one over WebSockets.
//
// # Views
//
// A component is any type embedding View, initialized with Init:
//
//	type CounterView struct {
//	    webgui.View
//	}
//
//	func (v *CounterView) Template() string {
//	    return `{{ .Subject.Value }} <button onclick="htmlgui.call({{ .Ref "Reset" }})">reset</button>`
//	}
//
//	func (v *CounterView) Reset() {
//	    v.Subject().(*Counter).Reset()
//	}
//
//	view := &CounterView{}
//	webgui.Init(view, counter, parent)
//
// Every view is rendered into an element carrying its unique id, which is how patches address it.
// Markup comes from the session's Renderer; TemplateRenderer supports inline templates
// (Template), template files (TemplateFile) and gomponents nodes (Node).
//
// # Subjects and visibility
//
// The subject of a view is the object it represents. Views reference their subject and their
// parent weakly: the parent owns the view, and when the subject is garbage collected the view
// deletes itself and removes its element.
//
// A view is visible once it has been rendered, and only while its parent is visible. While
// visible it is subscribed to its subject if that embeds observable.Observable, and re-renders
// on every change (or calls OnSubjectUpdated, if the component has it). Children that are not
// rendered in a render pass of their parent become invisible and unsubscribe, so conditionally
// shown parts of a page never keep subscriptions they don't need.
//
// ListView and DictView show observable containers with one child view per item, and apply
// changes of the container incrementally.
//
// # Sessions and calls
//
// A Session holds the root view and any number of connected frontends, which all show the same
// views. Frontends call backend functions by the id they were registered under (see View.Ref and
// Session.Register) or by the name they were exposed under (Session.Expose). The backend calls
// functions the frontend announced in its handshake with Session.CallJavascript; the replies of
// all frontends are collected into a PendingCall, which completes once every frontend replied or
// disconnected.
//
// An Endpoint creates sessions for incoming connections, either one shared session or one per
// connection.
package webgui
