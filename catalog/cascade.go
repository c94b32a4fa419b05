package catalog

// cascade collects the removals and modifications needed to delete an
// object together with everything depending on it.
type cascade struct {
	c        *Catalog
	removed  []Info
	gone     map[string]bool
	modified map[string]Info
	order    []string
}

func (v *cascade) current(k Kind, id string) Info {
	if m, ok := v.modified[id]; ok {
		return m
	}
	return v.c.objs[k][id]
}

func (v *cascade) modify(obj Info) {
	if _, ok := v.modified[obj.GetID()]; !ok {
		v.order = append(v.order, obj.GetID())
	}
	v.modified[obj.GetID()] = obj
}

func (v *cascade) remove(obj Info) {
	if v.gone[obj.GetID()] {
		return
	}
	v.gone[obj.GetID()] = true
	v.removed = append(v.removed, obj)
}

func (v *cascade) visit(obj Info) {
	if v.gone[obj.GetID()] {
		return
	}
	c := v.c
	switch o := obj.(type) {
	case *WorkspaceInfo:
		for _, k := range []Kind{KindDataStore, KindCoverageStore} {
			for _, s := range c.sortedByName(k, func(i Info) bool { return storeWorkspaceID(i) == o.ID }) {
				v.visit(s)
			}
		}
		for _, g := range c.sortedByName(KindLayerGroup, func(i Info) bool { return i.(*LayerGroupInfo).WorkspaceID == o.ID }) {
			v.visit(g)
		}
		for _, s := range c.sortedByName(KindStyle, func(i Info) bool { return i.(*StyleInfo).WorkspaceID == o.ID }) {
			v.visit(s)
		}
		if ns := c.namespaceByPrefix(o.Name); ns != nil {
			v.visit(ns)
		}

	case *NamespaceInfo:
		for _, k := range []Kind{KindFeatureType, KindCoverage} {
			for _, r := range c.sortedByName(k, func(i Info) bool { return resourceNamespaceID(i) == o.ID }) {
				v.visit(r)
			}
		}

	case *DataStoreInfo, *CoverageStoreInfo:
		for _, k := range []Kind{KindFeatureType, KindCoverage} {
			for _, r := range c.sortedByName(k, func(i Info) bool { return resourceStoreID(i) == obj.GetID() }) {
				v.visit(r)
			}
		}

	case *FeatureTypeInfo, *CoverageInfo:
		for _, l := range c.sortedByName(KindLayer, func(i Info) bool { return i.(*LayerInfo).ResourceID == obj.GetID() }) {
			v.visit(l)
		}

	case *LayerInfo, *LayerGroupInfo:
		v.detachFromGroups(obj.GetID())

	case *StyleInfo:
		v.detachStyle(o)
	}
	v.remove(obj)
}

// detachFromGroups drops id from every group listing it. Groups left empty
// are removed as well, except containers.
func (v *cascade) detachFromGroups(id string) {
	for _, g := range v.c.sortedByName(KindLayerGroup, nil) {
		if v.gone[g.GetID()] {
			continue
		}
		grp := v.current(KindLayerGroup, g.GetID()).(*LayerGroupInfo)
		idx := -1
		for i, p := range grp.Publishables {
			if p.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		grp = grp.Clone()
		for idx >= 0 {
			grp.Publishables = append(grp.Publishables[:idx], grp.Publishables[idx+1:]...)
			if len(grp.StyleIDs) > idx {
				grp.StyleIDs = append(grp.StyleIDs[:idx], grp.StyleIDs[idx+1:]...)
			}
			idx = -1
			for i, p := range grp.Publishables {
				if p.ID == id {
					idx = i
					break
				}
			}
		}
		if len(grp.Publishables) == 0 && grp.Mode != ModeContainer {
			delete(v.modified, grp.ID)
			v.visit(grp)
			continue
		}
		v.modify(grp)
	}
}

func (v *cascade) detachStyle(s *StyleInfo) {
	for _, o := range v.c.sortedByName(KindLayer, nil) {
		if v.gone[o.GetID()] {
			continue
		}
		l := v.current(KindLayer, o.GetID()).(*LayerInfo)
		if !layerUsesStyle(l, s.ID) {
			continue
		}
		l = l.Clone()
		var kept []string
		for _, id := range l.StyleIDs {
			if id != s.ID {
				kept = append(kept, id)
			}
		}
		l.StyleIDs = kept
		if l.DefaultStyleID == s.ID {
			l.DefaultStyleID = v.c.fallbackStyle(l, s.ID)
		}
		v.modify(l)
	}
	for _, o := range v.c.sortedByName(KindLayerGroup, nil) {
		if v.gone[o.GetID()] {
			continue
		}
		g := v.current(KindLayerGroup, o.GetID()).(*LayerGroupInfo)
		changed := false
		for i, id := range g.StyleIDs {
			if id == s.ID {
				if !changed {
					g = g.Clone()
					changed = true
				}
				g.StyleIDs[i] = ""
			}
		}
		if changed {
			v.modify(g)
		}
	}
}

// fallbackStyle picks a replacement default style for a layer whose default
// style is being removed.
func (c *Catalog) fallbackStyle(l *LayerInfo, removed string) string {
	name := DefaultStyleName(c.resource(l.ResourceID))
	for _, candidate := range []string{name, "generic"} {
		o := c.find(KindStyle, func(i Info) bool {
			return i.GetName() == candidate && i.(*StyleInfo).WorkspaceID == "" && i.GetID() != removed
		})
		if o != nil {
			return o.GetID()
		}
	}
	return ""
}

// DefaultStyleName returns the name of the built-in style matching the
// resource geometry or raster type.
func DefaultStyleName(resource Info) string {
	switch r := resource.(type) {
	case *CoverageInfo:
		return "raster"
	case *FeatureTypeInfo:
		geom, ok := r.GeometryAttribute()
		if !ok {
			return "generic"
		}
		switch geom.Binding {
		case BindingPoint, BindingMultiPoint:
			return "point"
		case BindingLineString, BindingMultiLineString:
			return "line"
		case BindingPolygon, BindingMultiPolygon:
			return "polygon"
		}
	}
	return "generic"
}

// CascadeRemove removes obj and every object depending on it. Layers and
// groups referring to removed styles or layers are updated instead of
// removed where possible.
func (c *Catalog) CascadeRemove(info Info) error {
	c.mu.Lock()
	obj, found := c.objs[info.Kind()][info.GetID()]
	if !found {
		c.mu.Unlock()
		return notFound("%s '%s' does not exist", info.Kind(), info.GetName())
	}
	v := &cascade{c: c, gone: map[string]bool{}, modified: map[string]Info{}}
	v.visit(obj)

	var mods [][2]Info
	for _, id := range v.order {
		m, ok := v.modified[id]
		if !ok || v.gone[id] {
			continue
		}
		old := c.objs[m.Kind()][id]
		c.objs[m.Kind()][id] = m
		mods = append(mods, [2]Info{old, m})
	}
	for _, r := range v.removed {
		delete(c.objs[r.Kind()], r.GetID())
	}
	newDefault, defaultChanged := c.fixDefaultWorkspace()
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	for _, l := range listeners {
		for _, m := range mods {
			l.HandleModify(CloneInfo(m[0]), CloneInfo(m[1]))
		}
		for _, r := range v.removed {
			l.HandleRemove(CloneInfo(r))
		}
		if defaultChanged {
			l.HandleDefaultWorkspace(cloneWorkspace(newDefault))
		}
	}
	return nil
}
