package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Listener is notified after catalog mutations. Objects passed to listeners
// are copies and may be retained.
type Listener interface {
	HandleAdd(info Info)
	HandleModify(old, info Info)
	HandleRemove(info Info)
	HandleDefaultWorkspace(ws *WorkspaceInfo)
}

// Catalog holds the configuration objects in memory. It is safe for
// concurrent use; every getter returns a copy.
type Catalog struct {
	mu               sync.RWMutex
	objs             map[Kind]map[string]Info
	defaultWorkspace string
	listeners        []Listener
}

func New() *Catalog {
	c := &Catalog{}
	c.reset()
	return c
}

func (c *Catalog) reset() {
	c.objs = make(map[Kind]map[string]Info, len(Kinds))
	for _, k := range Kinds {
		c.objs[k] = make(map[string]Info)
	}
	c.defaultWorkspace = ""
}

func (c *Catalog) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Catalog) RemoveListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.listeners {
		if o == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Catalog) snapshotListeners() []Listener {
	return append([]Listener(nil), c.listeners...)
}

// NewID returns a fresh object identifier for the given kind.
func NewID(k Kind) string {
	name := string(k)
	return strings.ToUpper(name[:1]) + name[1:] + "Info-" + uuid.New().String()
}

// Add validates and inserts a new object. An empty ID is assigned and
// written back to info.
func (c *Catalog) Add(info Info) error {
	obj := CloneInfo(info)
	if obj.GetID() == "" {
		setID(obj, NewID(obj.Kind()))
	}
	now := time.Now().UTC()
	stamp(obj, now, true)

	c.mu.Lock()
	if _, found := c.objs[obj.Kind()][obj.GetID()]; found {
		c.mu.Unlock()
		return exists("%s with id '%s' already exists", obj.Kind(), obj.GetID())
	}
	if err := c.validate(obj); err != nil {
		c.mu.Unlock()
		return err
	}
	c.objs[obj.Kind()][obj.GetID()] = obj
	var newDefault *WorkspaceInfo
	if ws, ok := obj.(*WorkspaceInfo); ok && c.defaultWorkspace == "" {
		c.defaultWorkspace = ws.ID
		newDefault = ws.Clone()
	}
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	setID(info, obj.GetID())
	stamp(info, now, true)
	for _, l := range listeners {
		l.HandleAdd(CloneInfo(obj))
		if newDefault != nil {
			l.HandleDefaultWorkspace(newDefault.Clone())
		}
	}
	return nil
}

// Save replaces an existing object after validating it.
func (c *Catalog) Save(info Info) error {
	obj := CloneInfo(info)
	now := time.Now().UTC()
	stamp(obj, now, false)

	c.mu.Lock()
	old, found := c.objs[obj.Kind()][obj.GetID()]
	if !found {
		c.mu.Unlock()
		return notFound("%s '%s' does not exist", obj.Kind(), obj.GetName())
	}
	keepCreated(obj, old)
	if err := c.validate(obj); err != nil {
		c.mu.Unlock()
		return err
	}
	c.objs[obj.Kind()][obj.GetID()] = obj
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	stamp(info, now, false)
	for _, l := range listeners {
		l.HandleModify(CloneInfo(old), CloneInfo(obj))
	}
	return nil
}

// Remove deletes an object that nothing else refers to.
func (c *Catalog) Remove(info Info) error {
	c.mu.Lock()
	obj, found := c.objs[info.Kind()][info.GetID()]
	if !found {
		c.mu.Unlock()
		return notFound("%s '%s' does not exist", info.Kind(), info.GetName())
	}
	if err := c.checkUnused(obj); err != nil {
		c.mu.Unlock()
		return err
	}
	delete(c.objs[obj.Kind()], obj.GetID())
	newDefault, defaultChanged := c.fixDefaultWorkspace()
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	for _, l := range listeners {
		l.HandleRemove(CloneInfo(obj))
		if defaultChanged {
			l.HandleDefaultWorkspace(cloneWorkspace(newDefault))
		}
	}
	return nil
}

// Load inserts objects without validation or events. It is used to
// bootstrap the catalog from persistent storage.
func (c *Catalog) Load(objects ...Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range objects {
		obj := CloneInfo(o)
		if obj.GetID() == "" {
			setID(obj, NewID(obj.Kind()))
		}
		c.objs[obj.Kind()][obj.GetID()] = obj
		if ws, ok := obj.(*WorkspaceInfo); ok && c.defaultWorkspace == "" {
			c.defaultWorkspace = ws.ID
		}
	}
}

// LoadDefaultWorkspace marks the named workspace as default without
// notifying listeners.
func (c *Catalog) LoadDefaultWorkspace(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws := c.workspaceByName(name)
	if ws == nil {
		return false
	}
	c.defaultWorkspace = ws.ID
	return true
}

// Clear drops every object. Listeners are kept.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Reload replaces the content of c with what load puts into a fresh
// catalog. Readers and writers of c wait until load returns, and c is left
// untouched when load fails. Listeners are kept and not notified. load must
// not use c.
func (c *Catalog) Reload(load func(fresh *Catalog) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh := New()
	if err := load(fresh); err != nil {
		return err
	}
	c.objs = fresh.objs
	c.defaultWorkspace = fresh.defaultWorkspace
	return nil
}

func (c *Catalog) Count(k Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objs[k])
}

func (c *Catalog) fixDefaultWorkspace() (*WorkspaceInfo, bool) {
	if c.defaultWorkspace == "" {
		return nil, false
	}
	if _, ok := c.objs[KindWorkspace][c.defaultWorkspace]; ok {
		return nil, false
	}
	c.defaultWorkspace = ""
	wss := c.workspaces()
	if len(wss) == 0 {
		return nil, true
	}
	c.defaultWorkspace = wss[0].ID
	return wss[0], true
}

func (c *Catalog) GetDefaultWorkspace() *WorkspaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ws, ok := c.objs[KindWorkspace][c.defaultWorkspace]; ok {
		return ws.(*WorkspaceInfo).Clone()
	}
	return nil
}

func (c *Catalog) SetDefaultWorkspace(name string) error {
	c.mu.Lock()
	ws := c.workspaceByName(name)
	if ws == nil {
		c.mu.Unlock()
		return notFound("No such workspace: '%s'", name)
	}
	c.defaultWorkspace = ws.ID
	listeners := c.snapshotListeners()
	c.mu.Unlock()
	for _, l := range listeners {
		l.HandleDefaultWorkspace(ws.Clone())
	}
	return nil
}

func (c *Catalog) GetDefaultNamespace() *NamespaceInfo {
	ws := c.GetDefaultWorkspace()
	if ws == nil {
		return nil
	}
	return c.GetNamespaceByPrefix(ws.Name)
}

func setID(info Info, id string) {
	switch o := info.(type) {
	case *WorkspaceInfo:
		o.ID = id
	case *NamespaceInfo:
		o.ID = id
	case *DataStoreInfo:
		o.ID = id
	case *CoverageStoreInfo:
		o.ID = id
	case *FeatureTypeInfo:
		o.ID = id
	case *CoverageInfo:
		o.ID = id
	case *StyleInfo:
		o.ID = id
	case *LayerInfo:
		o.ID = id
	case *LayerGroupInfo:
		o.ID = id
	}
}

func stamp(info Info, now time.Time, created bool) {
	switch o := info.(type) {
	case *WorkspaceInfo:
		if created {
			o.DateCreated = now
		}
		o.DateModified = now
	case *DataStoreInfo:
		if created {
			o.DateCreated = now
		}
		o.DateModified = now
	case *CoverageStoreInfo:
		if created {
			o.DateCreated = now
		}
		o.DateModified = now
	case *StyleInfo:
		if created {
			o.DateCreated = now
		}
		o.DateModified = now
	}
}

func keepCreated(obj, old Info) {
	switch o := obj.(type) {
	case *WorkspaceInfo:
		o.DateCreated = old.(*WorkspaceInfo).DateCreated
	case *DataStoreInfo:
		o.DateCreated = old.(*DataStoreInfo).DateCreated
	case *CoverageStoreInfo:
		o.DateCreated = old.(*CoverageStoreInfo).DateCreated
	case *StyleInfo:
		o.DateCreated = old.(*StyleInfo).DateCreated
	}
}

func cloneWorkspace(ws *WorkspaceInfo) *WorkspaceInfo {
	if ws == nil {
		return nil
	}
	return ws.Clone()
}

// sortedByName returns the objects of a kind that satisfy keep, sorted by
// name then ID.
func (c *Catalog) sortedByName(k Kind, keep func(Info) bool) []Info {
	var out []Info
	for _, o := range c.objs[k] {
		if keep == nil || keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GetName() == out[j].GetName() {
			return out[i].GetID() < out[j].GetID()
		}
		return out[i].GetName() < out[j].GetName()
	})
	return out
}

func (c *Catalog) find(k Kind, match func(Info) bool) Info {
	for _, o := range c.sortedByName(k, match) {
		return o
	}
	return nil
}

func (c *Catalog) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var parts []string
	for _, k := range Kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, len(c.objs[k])))
	}
	return "catalog[" + strings.Join(parts, " ") + "]"
}
