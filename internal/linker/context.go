package linker

import (
	"strings"
)

// Context resolves ids against a Table, but only those whose package lies
// under one of its allowed import paths. Nothing outside the allow-list is
// reachable, even if it is registered; there is no fallback.
type Context struct {
	table   *Table
	allow   []string
	loaded  map[string]bool
	natives []string
	closed  bool
}

// Isolate returns a Context that can see ids whose package is one of allow
// or nested below one of them.
func (t *Table) Isolate(allow ...string) *Context {
	cleaned := make([]string, 0, len(allow))
	for _, a := range allow {
		if a = strings.TrimSuffix(strings.TrimSpace(a), "/"); a != "" {
			cleaned = append(cleaned, a)
		}
	}
	return &Context{table: t, allow: cleaned, loaded: make(map[string]bool)}
}

// Visible reports whether id lies inside the allow-list.
func (c *Context) Visible(id string) bool {
	pkg := PackageOf(id)
	if pkg == "" {
		return false
	}
	for _, a := range c.allow {
		if pkg == a || strings.HasPrefix(pkg, a+"/") {
			return true
		}
	}
	return false
}

// Natives lists the native libraries this Context has claimed.
func (c *Context) Natives() []string {
	return append([]string(nil), c.natives...)
}

// LoadPlug resolves a plug and, transitively, everything it requires.
func (c *Context) LoadPlug(id string) (*Plug, error) {
	return c.loadPlug(id, "")
}

func (c *Context) loadPlug(id, from string) (*Plug, error) {
	if c.closed {
		return nil, &LinkError{ID: id, From: from, Err: ErrClosed}
	}
	if !c.Visible(id) {
		return nil, &LinkError{ID: id, From: from, Err: ErrNotVisible}
	}
	p, ok := c.table.Plug(id)
	if !ok {
		return nil, &LinkError{ID: id, From: from, Err: ErrNotRegistered}
	}
	if c.loaded[id] {
		return p, nil
	}
	c.loaded[id] = true

	for _, dep := range p.Requires {
		if _, isSocket := c.table.Socket(dep); isSocket {
			if _, err := c.loadSocket(dep, id); err != nil {
				delete(c.loaded, id)
				return nil, err
			}
			continue
		}
		if _, err := c.loadPlug(dep, id); err != nil {
			delete(c.loaded, id)
			return nil, err
		}
	}

	if p.Native != "" {
		if err := c.table.claimNative(p.Native, c); err != nil {
			delete(c.loaded, id)
			return nil, &LinkError{ID: id, From: from, Native: p.Native, Err: err}
		}
		c.natives = append(c.natives, p.Native)
	}
	return p, nil
}

// LoadSocket resolves a socket.
func (c *Context) LoadSocket(id string) (*Socket, error) {
	return c.loadSocket(id, "")
}

func (c *Context) loadSocket(id, from string) (*Socket, error) {
	if c.closed {
		return nil, &LinkError{ID: id, From: from, Err: ErrClosed}
	}
	if !c.Visible(id) {
		return nil, &LinkError{ID: id, From: from, Err: ErrNotVisible}
	}
	s, ok := c.table.Socket(id)
	if !ok {
		return nil, &LinkError{ID: id, From: from, Err: ErrNotRegistered}
	}
	return s, nil
}

// Instantiate builds a plug previously returned by LoadPlug.
func (c *Context) Instantiate(p *Plug) (any, error) {
	if c.closed {
		return nil, &LinkError{ID: p.ID, Err: ErrClosed}
	}
	return p.New()
}

// Close makes the Context unusable. Native claims are held until the
// Context itself is garbage collected.
func (c *Context) Close() {
	c.closed = true
	c.loaded = nil
}
