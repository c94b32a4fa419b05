package catalog

import "strings"

// Unlocked helpers; callers hold c.mu.

func (c *Catalog) workspaces() []*WorkspaceInfo {
	var out []*WorkspaceInfo
	for _, o := range c.sortedByName(KindWorkspace, nil) {
		out = append(out, o.(*WorkspaceInfo))
	}
	return out
}

func (c *Catalog) workspaceByName(name string) *WorkspaceInfo {
	o := c.find(KindWorkspace, func(i Info) bool { return i.GetName() == name })
	if o == nil {
		return nil
	}
	return o.(*WorkspaceInfo)
}

func (c *Catalog) namespaceByPrefix(prefix string) *NamespaceInfo {
	o := c.find(KindNamespace, func(i Info) bool { return i.GetName() == prefix })
	if o == nil {
		return nil
	}
	return o.(*NamespaceInfo)
}

func (c *Catalog) storeWorkspace(storeID string) *WorkspaceInfo {
	var wsID string
	if s, ok := c.objs[KindDataStore][storeID]; ok {
		wsID = s.(*DataStoreInfo).WorkspaceID
	} else if s, ok := c.objs[KindCoverageStore][storeID]; ok {
		wsID = s.(*CoverageStoreInfo).WorkspaceID
	} else {
		return nil
	}
	if ws, ok := c.objs[KindWorkspace][wsID]; ok {
		return ws.(*WorkspaceInfo)
	}
	return nil
}

func (c *Catalog) storeByName(wsID, name string, kinds ...Kind) Info {
	for _, k := range kinds {
		o := c.find(k, func(i Info) bool { return i.GetName() == name && storeWorkspaceID(i) == wsID })
		if o != nil {
			return o
		}
	}
	return nil
}

func storeWorkspaceID(i Info) string {
	switch s := i.(type) {
	case *DataStoreInfo:
		return s.WorkspaceID
	case *CoverageStoreInfo:
		return s.WorkspaceID
	}
	return ""
}

func resourceStoreID(i Info) string {
	switch r := i.(type) {
	case *FeatureTypeInfo:
		return r.StoreID
	case *CoverageInfo:
		return r.StoreID
	}
	return ""
}

func resourceNamespaceID(i Info) string {
	switch r := i.(type) {
	case *FeatureTypeInfo:
		return r.NamespaceID
	case *CoverageInfo:
		return r.NamespaceID
	}
	return ""
}

func (c *Catalog) resource(id string) Info {
	if r, ok := c.objs[KindFeatureType][id]; ok {
		return r
	}
	if r, ok := c.objs[KindCoverage][id]; ok {
		return r
	}
	return nil
}

// resourceByName finds a feature type or coverage by workspace name and
// resource name.
func (c *Catalog) resourceByName(wsName, name string) Info {
	ns := c.namespaceByPrefix(wsName)
	if ns == nil {
		return nil
	}
	for _, k := range []Kind{KindFeatureType, KindCoverage} {
		o := c.find(k, func(i Info) bool { return i.GetName() == name && resourceNamespaceID(i) == ns.ID })
		if o != nil {
			return o
		}
	}
	return nil
}

func (c *Catalog) layerGroupContains(g *LayerGroupInfo, id string, seen map[string]bool) bool {
	if seen[g.ID] {
		return false
	}
	seen[g.ID] = true
	for _, p := range g.Publishables {
		if p.ID == id {
			return true
		}
		if p.Type == PublishedLayerGroup {
			if child, ok := c.objs[KindLayerGroup][p.ID]; ok {
				if c.layerGroupContains(child.(*LayerGroupInfo), id, seen) {
					return true
				}
			}
		}
	}
	return false
}

// Public getters.

func (c *Catalog) GetWorkspace(id string) *WorkspaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.objs[KindWorkspace][id]; ok {
		return o.(*WorkspaceInfo).Clone()
	}
	return nil
}

func (c *Catalog) GetWorkspaceByName(name string) *WorkspaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ws := c.workspaceByName(name); ws != nil {
		return ws.Clone()
	}
	return nil
}

func (c *Catalog) GetWorkspaces() []*WorkspaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*WorkspaceInfo
	for _, ws := range c.workspaces() {
		out = append(out, ws.Clone())
	}
	return out
}

func (c *Catalog) GetNamespace(id string) *NamespaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.objs[KindNamespace][id]; ok {
		return o.(*NamespaceInfo).Clone()
	}
	return nil
}

func (c *Catalog) GetNamespaceByPrefix(prefix string) *NamespaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ns := c.namespaceByPrefix(prefix); ns != nil {
		return ns.Clone()
	}
	return nil
}

func (c *Catalog) GetNamespaceByURI(uri string) *NamespaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o := c.find(KindNamespace, func(i Info) bool { return i.(*NamespaceInfo).URI == uri })
	if o == nil {
		return nil
	}
	return o.(*NamespaceInfo).Clone()
}

func (c *Catalog) GetNamespaces() []*NamespaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*NamespaceInfo
	for _, o := range c.sortedByName(KindNamespace, nil) {
		out = append(out, o.(*NamespaceInfo).Clone())
	}
	return out
}

func (c *Catalog) GetDataStore(id string) *DataStoreInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.objs[KindDataStore][id]; ok {
		return o.(*DataStoreInfo).Clone()
	}
	return nil
}

func (c *Catalog) GetDataStoreByName(wsName, name string) *DataStoreInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ws := c.workspaceByName(wsName)
	if ws == nil {
		return nil
	}
	if o := c.storeByName(ws.ID, name, KindDataStore); o != nil {
		return o.(*DataStoreInfo).Clone()
	}
	return nil
}

func (c *Catalog) GetDataStoresByWorkspace(wsName string) []*DataStoreInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*DataStoreInfo
	ws := c.workspaceByName(wsName)
	if ws == nil {
		return nil
	}
	for _, o := range c.sortedByName(KindDataStore, func(i Info) bool { return storeWorkspaceID(i) == ws.ID }) {
		out = append(out, o.(*DataStoreInfo).Clone())
	}
	return out
}

func (c *Catalog) GetCoverageStore(id string) *CoverageStoreInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.objs[KindCoverageStore][id]; ok {
		return o.(*CoverageStoreInfo).Clone()
	}
	return nil
}

func (c *Catalog) GetCoverageStoreByName(wsName, name string) *CoverageStoreInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ws := c.workspaceByName(wsName)
	if ws == nil {
		return nil
	}
	if o := c.storeByName(ws.ID, name, KindCoverageStore); o != nil {
		return o.(*CoverageStoreInfo).Clone()
	}
	return nil
}

func (c *Catalog) GetCoverageStoresByWorkspace(wsName string) []*CoverageStoreInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*CoverageStoreInfo
	ws := c.workspaceByName(wsName)
	if ws == nil {
		return nil
	}
	for _, o := range c.sortedByName(KindCoverageStore, func(i Info) bool { return storeWorkspaceID(i) == ws.ID }) {
		out = append(out, o.(*CoverageStoreInfo).Clone())
	}
	return out
}

// GetStoreByName returns a data store or coverage store.
func (c *Catalog) GetStoreByName(wsName, name string) Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ws := c.workspaceByName(wsName)
	if ws == nil {
		return nil
	}
	if o := c.storeByName(ws.ID, name, KindDataStore, KindCoverageStore); o != nil {
		return CloneInfo(o)
	}
	return nil
}

// StoreWorkspace returns the workspace a store belongs to.
func (c *Catalog) StoreWorkspace(storeID string) *WorkspaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ws := c.storeWorkspace(storeID); ws != nil {
		return ws.Clone()
	}
	return nil
}

func (c *Catalog) GetFeatureType(id string) *FeatureTypeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.objs[KindFeatureType][id]; ok {
		return o.(*FeatureTypeInfo).Clone()
	}
	return nil
}

func (c *Catalog) GetFeatureTypeByName(wsName, name string) *FeatureTypeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.resourceByName(wsName, name).(*FeatureTypeInfo); ok {
		return r.Clone()
	}
	return nil
}

func (c *Catalog) GetFeatureTypeByStore(storeID, name string) *FeatureTypeInfo {
	for _, ft := range c.GetFeatureTypesByStore(storeID) {
		if ft.Name == name {
			return ft
		}
	}
	return nil
}

func (c *Catalog) GetFeatureTypesByStore(storeID string) []*FeatureTypeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*FeatureTypeInfo
	for _, o := range c.sortedByName(KindFeatureType, func(i Info) bool { return resourceStoreID(i) == storeID }) {
		out = append(out, o.(*FeatureTypeInfo).Clone())
	}
	return out
}

func (c *Catalog) GetFeatureTypesByWorkspace(wsName string) []*FeatureTypeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns := c.namespaceByPrefix(wsName)
	if ns == nil {
		return nil
	}
	var out []*FeatureTypeInfo
	for _, o := range c.sortedByName(KindFeatureType, func(i Info) bool { return resourceNamespaceID(i) == ns.ID }) {
		out = append(out, o.(*FeatureTypeInfo).Clone())
	}
	return out
}

func (c *Catalog) GetFeatureTypes() []*FeatureTypeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*FeatureTypeInfo
	for _, o := range c.sortedByName(KindFeatureType, nil) {
		out = append(out, o.(*FeatureTypeInfo).Clone())
	}
	return out
}

func (c *Catalog) GetCoverage(id string) *CoverageInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.objs[KindCoverage][id]; ok {
		return o.(*CoverageInfo).Clone()
	}
	return nil
}

func (c *Catalog) GetCoverageByName(wsName, name string) *CoverageInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.resourceByName(wsName, name).(*CoverageInfo); ok {
		return r.Clone()
	}
	return nil
}

func (c *Catalog) GetCoverageByStore(storeID, name string) *CoverageInfo {
	for _, cv := range c.GetCoveragesByStore(storeID) {
		if cv.Name == name {
			return cv
		}
	}
	return nil
}

func (c *Catalog) GetCoveragesByStore(storeID string) []*CoverageInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*CoverageInfo
	for _, o := range c.sortedByName(KindCoverage, func(i Info) bool { return resourceStoreID(i) == storeID }) {
		out = append(out, o.(*CoverageInfo).Clone())
	}
	return out
}

func (c *Catalog) GetCoveragesByWorkspace(wsName string) []*CoverageInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns := c.namespaceByPrefix(wsName)
	if ns == nil {
		return nil
	}
	var out []*CoverageInfo
	for _, o := range c.sortedByName(KindCoverage, func(i Info) bool { return resourceNamespaceID(i) == ns.ID }) {
		out = append(out, o.(*CoverageInfo).Clone())
	}
	return out
}

// GetResource returns the feature type or coverage with the given ID.
func (c *Catalog) GetResource(id string) Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r := c.resource(id); r != nil {
		return CloneInfo(r)
	}
	return nil
}

func (c *Catalog) GetResourceByName(wsName, name string) Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r := c.resourceByName(wsName, name); r != nil {
		return CloneInfo(r)
	}
	return nil
}

func (c *Catalog) GetStyle(id string) *StyleInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.objs[KindStyle][id]; ok {
		return o.(*StyleInfo).Clone()
	}
	return nil
}

// GetStyleByName looks the style up in the workspace first, then among
// global styles. An empty workspace name only searches global styles.
func (c *Catalog) GetStyleByName(wsName, name string) *StyleInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if wsName != "" {
		ws := c.workspaceByName(wsName)
		if ws != nil {
			o := c.find(KindStyle, func(i Info) bool { return i.GetName() == name && i.(*StyleInfo).WorkspaceID == ws.ID })
			if o != nil {
				return o.(*StyleInfo).Clone()
			}
		}
	}
	o := c.find(KindStyle, func(i Info) bool { return i.GetName() == name && i.(*StyleInfo).WorkspaceID == "" })
	if o == nil {
		return nil
	}
	return o.(*StyleInfo).Clone()
}

// GetStylesByWorkspace returns the styles local to a workspace, or the
// global styles when wsName is empty.
func (c *Catalog) GetStylesByWorkspace(wsName string) []*StyleInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wsID := ""
	if wsName != "" {
		ws := c.workspaceByName(wsName)
		if ws == nil {
			return nil
		}
		wsID = ws.ID
	}
	var out []*StyleInfo
	for _, o := range c.sortedByName(KindStyle, func(i Info) bool { return i.(*StyleInfo).WorkspaceID == wsID }) {
		out = append(out, o.(*StyleInfo).Clone())
	}
	return out
}

func (c *Catalog) GetStyles() []*StyleInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*StyleInfo
	for _, o := range c.sortedByName(KindStyle, nil) {
		out = append(out, o.(*StyleInfo).Clone())
	}
	return out
}

func (c *Catalog) GetLayer(id string) *LayerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.objs[KindLayer][id]; ok {
		return o.(*LayerInfo).Clone()
	}
	return nil
}

// GetLayerByName accepts either a prefixed "ws:name" or a bare name. Bare
// names prefer the default workspace.
func (c *Catalog) GetLayerByName(name string) *LayerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := strings.Index(name, ":"); i >= 0 {
		r := c.resourceByName(name[:i], name[i+1:])
		if r == nil {
			return nil
		}
		o := c.find(KindLayer, func(l Info) bool { return l.(*LayerInfo).ResourceID == r.GetID() })
		if o == nil {
			return nil
		}
		return o.(*LayerInfo).Clone()
	}
	var fallback *LayerInfo
	for _, o := range c.sortedByName(KindLayer, func(l Info) bool { return l.GetName() == name }) {
		l := o.(*LayerInfo)
		if c.defaultWorkspace != "" {
			if r := c.resource(l.ResourceID); r != nil {
				if ws := c.storeWorkspace(resourceStoreID(r)); ws != nil && ws.ID == c.defaultWorkspace {
					return l.Clone()
				}
			}
		}
		if fallback == nil {
			fallback = l
		}
	}
	if fallback == nil {
		return nil
	}
	return fallback.Clone()
}

func (c *Catalog) GetLayers() []*LayerInfo {
	return c.filterLayers(nil)
}

func (c *Catalog) GetLayersByWorkspace(wsName string) []*LayerInfo {
	c.mu.RLock()
	ws := c.workspaceByName(wsName)
	c.mu.RUnlock()
	if ws == nil {
		return nil
	}
	return c.filterLayers(func(l *LayerInfo) bool {
		r := c.resource(l.ResourceID)
		if r == nil {
			return false
		}
		w := c.storeWorkspace(resourceStoreID(r))
		return w != nil && w.ID == ws.ID
	})
}

func (c *Catalog) GetLayersByResource(resourceID string) []*LayerInfo {
	return c.filterLayers(func(l *LayerInfo) bool { return l.ResourceID == resourceID })
}

// GetLayersUsingStyle returns layers that use the style as default or
// alternative style.
func (c *Catalog) GetLayersUsingStyle(styleID string) []*LayerInfo {
	return c.filterLayers(func(l *LayerInfo) bool { return layerUsesStyle(l, styleID) })
}

func layerUsesStyle(l *LayerInfo, styleID string) bool {
	if l.DefaultStyleID == styleID {
		return true
	}
	for _, s := range l.StyleIDs {
		if s == styleID {
			return true
		}
	}
	return false
}

func (c *Catalog) filterLayers(keep func(*LayerInfo) bool) []*LayerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*LayerInfo
	for _, o := range c.sortedByName(KindLayer, nil) {
		l := o.(*LayerInfo)
		if keep == nil || keep(l) {
			out = append(out, l.Clone())
		}
	}
	return out
}

// LayerWorkspace returns the workspace of the resource a layer publishes.
func (c *Catalog) LayerWorkspace(l *LayerInfo) *WorkspaceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.resource(l.ResourceID)
	if r == nil {
		return nil
	}
	if ws := c.storeWorkspace(resourceStoreID(r)); ws != nil {
		return ws.Clone()
	}
	return nil
}

func (c *Catalog) GetLayerGroup(id string) *LayerGroupInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if o, ok := c.objs[KindLayerGroup][id]; ok {
		return o.(*LayerGroupInfo).Clone()
	}
	return nil
}

// GetLayerGroupByName returns a workspace group when wsName is set,
// otherwise a global group.
func (c *Catalog) GetLayerGroupByName(wsName, name string) *LayerGroupInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wsID := ""
	if wsName != "" {
		ws := c.workspaceByName(wsName)
		if ws == nil {
			return nil
		}
		wsID = ws.ID
	}
	o := c.find(KindLayerGroup, func(i Info) bool {
		return i.GetName() == name && i.(*LayerGroupInfo).WorkspaceID == wsID
	})
	if o == nil {
		return nil
	}
	return o.(*LayerGroupInfo).Clone()
}

func (c *Catalog) GetLayerGroups() []*LayerGroupInfo {
	return c.filterGroups(nil)
}

func (c *Catalog) GetLayerGroupsByWorkspace(wsName string) []*LayerGroupInfo {
	wsID := ""
	if wsName != "" {
		ws := c.GetWorkspaceByName(wsName)
		if ws == nil {
			return nil
		}
		wsID = ws.ID
	}
	return c.filterGroups(func(g *LayerGroupInfo) bool { return g.WorkspaceID == wsID })
}

// GetLayerGroupsContaining returns groups that directly list the
// published object.
func (c *Catalog) GetLayerGroupsContaining(id string) []*LayerGroupInfo {
	return c.filterGroups(func(g *LayerGroupInfo) bool {
		for _, p := range g.Publishables {
			if p.ID == id {
				return true
			}
		}
		return false
	})
}

func (c *Catalog) filterGroups(keep func(*LayerGroupInfo) bool) []*LayerGroupInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*LayerGroupInfo
	for _, o := range c.sortedByName(KindLayerGroup, nil) {
		g := o.(*LayerGroupInfo)
		if keep == nil || keep(g) {
			out = append(out, g.Clone())
		}
	}
	return out
}
