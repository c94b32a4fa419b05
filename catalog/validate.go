package catalog

import "strings"

func checkName(kind Kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("%s name must not be empty", kind)
	}
	if strings.ContainsAny(name, ":/") {
		return invalid("%s name '%s' must not contain ':' or '/'", kind, name)
	}
	return nil
}

// validate checks obj against the objects already in the catalog, skipping
// the stored copy of obj itself. Callers hold c.mu.
func (c *Catalog) validate(obj Info) error {
	if err := checkName(obj.Kind(), obj.GetName()); err != nil {
		return err
	}
	others := func(k Kind, keep func(Info) bool) Info {
		return c.find(k, func(i Info) bool { return i.GetID() != obj.GetID() && keep(i) })
	}

	switch o := obj.(type) {
	case *WorkspaceInfo:
		if others(KindWorkspace, func(i Info) bool { return i.GetName() == o.Name }) != nil {
			return exists("Workspace named '%s' already exists.", o.Name)
		}

	case *NamespaceInfo:
		if strings.TrimSpace(o.URI) == "" {
			return invalid("Namespace '%s' has no URI", o.Prefix)
		}
		if others(KindNamespace, func(i Info) bool { return i.GetName() == o.Prefix }) != nil {
			return exists("Namespace with prefix '%s' already exists.", o.Prefix)
		}
		if others(KindNamespace, func(i Info) bool { return i.(*NamespaceInfo).URI == o.URI }) != nil {
			return exists("Namespace with URI '%s' already exists.", o.URI)
		}

	case *DataStoreInfo:
		return c.validateStore(obj, o.WorkspaceID)

	case *CoverageStoreInfo:
		return c.validateStore(obj, o.WorkspaceID)

	case *FeatureTypeInfo:
		if _, ok := c.objs[KindDataStore][o.StoreID]; !ok {
			return invalid("Feature type '%s' must be part of an existing data store", o.Name)
		}
		return c.validateResource(obj, o.StoreID, o.NamespaceID)

	case *CoverageInfo:
		if _, ok := c.objs[KindCoverageStore][o.StoreID]; !ok {
			return invalid("Coverage '%s' must be part of an existing coverage store", o.Name)
		}
		return c.validateResource(obj, o.StoreID, o.NamespaceID)

	case *StyleInfo:
		if strings.TrimSpace(o.Filename) == "" {
			return invalid("Style '%s' has no file name", o.Name)
		}
		if o.WorkspaceID != "" {
			if _, ok := c.objs[KindWorkspace][o.WorkspaceID]; !ok {
				return invalid("Style '%s' refers to a missing workspace", o.Name)
			}
		}
		if others(KindStyle, func(i Info) bool {
			return i.GetName() == o.Name && i.(*StyleInfo).WorkspaceID == o.WorkspaceID
		}) != nil {
			return exists("Style named '%s' already exists.", o.Name)
		}

	case *LayerInfo:
		r := c.resource(o.ResourceID)
		if r == nil {
			return invalid("Layer '%s' must refer to an existing resource", o.Name)
		}
		if o.Name != r.GetName() {
			return invalid("Layer name '%s' must match resource name '%s'", o.Name, r.GetName())
		}
		if o.DefaultStyleID != "" {
			if _, ok := c.objs[KindStyle][o.DefaultStyleID]; !ok {
				return invalid("Layer '%s' refers to a missing default style", o.Name)
			}
		}
		for _, s := range o.StyleIDs {
			if _, ok := c.objs[KindStyle][s]; !ok {
				return invalid("Layer '%s' refers to a missing style", o.Name)
			}
		}
		if others(KindLayer, func(i Info) bool { return i.(*LayerInfo).ResourceID == o.ResourceID }) != nil {
			return exists("Resource '%s' is already published by a layer", r.GetName())
		}

	case *LayerGroupInfo:
		return c.validateLayerGroup(o, others)
	}
	return nil
}

func (c *Catalog) validateStore(obj Info, wsID string) error {
	if _, ok := c.objs[KindWorkspace][wsID]; !ok {
		return invalid("Store '%s' must be part of an existing workspace", obj.GetName())
	}
	for _, k := range []Kind{KindDataStore, KindCoverageStore} {
		dup := c.find(k, func(i Info) bool {
			return i.GetID() != obj.GetID() && i.GetName() == obj.GetName() && storeWorkspaceID(i) == wsID
		})
		if dup != nil {
			return exists("Store '%s' already exists in workspace '%s'", obj.GetName(), c.objs[KindWorkspace][wsID].GetName())
		}
	}
	return nil
}

func (c *Catalog) validateResource(obj Info, storeID, nsID string) error {
	nsObj, ok := c.objs[KindNamespace][nsID]
	if !ok {
		return invalid("Resource '%s' must be part of an existing namespace", obj.GetName())
	}
	ws := c.storeWorkspace(storeID)
	if ws == nil || ws.Name != nsObj.GetName() {
		return invalid("Resource '%s' namespace '%s' does not match its store workspace", obj.GetName(), nsObj.GetName())
	}
	for _, k := range []Kind{KindFeatureType, KindCoverage} {
		dup := c.find(k, func(i Info) bool {
			return i.GetID() != obj.GetID() && i.GetName() == obj.GetName() && resourceNamespaceID(i) == nsID
		})
		if dup != nil {
			return exists("Resource named '%s' already exists in namespace: '%s'", obj.GetName(), nsObj.GetName())
		}
	}
	return nil
}

func (c *Catalog) validateLayerGroup(g *LayerGroupInfo, others func(Kind, func(Info) bool) Info) error {
	switch g.Mode {
	case "":
		g.Mode = ModeSingle
	case ModeSingle, ModeNamed, ModeContainer, ModeEO:
	default:
		return invalid("Invalid layer group mode '%s'", g.Mode)
	}
	if g.WorkspaceID != "" {
		if _, ok := c.objs[KindWorkspace][g.WorkspaceID]; !ok {
			return invalid("Layer group '%s' refers to a missing workspace", g.Name)
		}
	}
	if len(g.Publishables) == 0 && g.Mode != ModeContainer {
		return invalid("Layer group '%s' must not be empty", g.Name)
	}
	if len(g.StyleIDs) > 0 && len(g.StyleIDs) != len(g.Publishables) {
		return invalid("Layer group '%s' has different number of styles than layers", g.Name)
	}
	for i, p := range g.Publishables {
		switch p.Type {
		case PublishedLayer:
			if _, ok := c.objs[KindLayer][p.ID]; !ok {
				return invalid("Layer group '%s' refers to a missing layer", g.Name)
			}
		case PublishedLayerGroup:
			if p.ID == g.ID {
				return invalid("Layer group '%s' cannot contain itself", g.Name)
			}
			child, ok := c.objs[KindLayerGroup][p.ID]
			if !ok {
				return invalid("Layer group '%s' refers to a missing layer group", g.Name)
			}
			if g.ID != "" && c.layerGroupContains(child.(*LayerGroupInfo), g.ID, map[string]bool{}) {
				return invalid("Layer group '%s' would contain itself", g.Name)
			}
		default:
			return invalid("Layer group '%s' entry %d has unknown type '%s'", g.Name, i, p.Type)
		}
		if len(g.StyleIDs) > 0 && g.StyleIDs[i] != "" {
			if _, ok := c.objs[KindStyle][g.StyleIDs[i]]; !ok {
				return invalid("Layer group '%s' refers to a missing style", g.Name)
			}
		}
	}
	if others(KindLayerGroup, func(i Info) bool {
		return i.GetName() == g.Name && i.(*LayerGroupInfo).WorkspaceID == g.WorkspaceID
	}) != nil {
		return exists("Layer group named '%s' already exists", g.Name)
	}
	return nil
}

// checkUnused reports ErrInUse when other objects refer to obj. Callers
// hold c.mu.
func (c *Catalog) checkUnused(obj Info) error {
	referenced := func(k Kind, match func(Info) bool) bool {
		return c.find(k, match) != nil
	}
	switch o := obj.(type) {
	case *WorkspaceInfo:
		ref := func(i Info) bool { return storeWorkspaceID(i) == o.ID }
		if referenced(KindDataStore, ref) || referenced(KindCoverageStore, ref) ||
			referenced(KindStyle, func(i Info) bool { return i.(*StyleInfo).WorkspaceID == o.ID }) ||
			referenced(KindLayerGroup, func(i Info) bool { return i.(*LayerGroupInfo).WorkspaceID == o.ID }) {
			return inUse("Workspace '%s' is not empty", o.Name)
		}
	case *NamespaceInfo:
		ref := func(i Info) bool { return resourceNamespaceID(i) == o.ID }
		if referenced(KindFeatureType, ref) || referenced(KindCoverage, ref) {
			return inUse("Namespace '%s' is not empty", o.Prefix)
		}
	case *DataStoreInfo, *CoverageStoreInfo:
		ref := func(i Info) bool { return resourceStoreID(i) == obj.GetID() }
		if referenced(KindFeatureType, ref) || referenced(KindCoverage, ref) {
			return inUse("Store '%s' is not empty", obj.GetName())
		}
	case *FeatureTypeInfo, *CoverageInfo:
		if referenced(KindLayer, func(i Info) bool { return i.(*LayerInfo).ResourceID == obj.GetID() }) {
			return inUse("Resource '%s' is published by a layer", obj.GetName())
		}
	case *StyleInfo:
		if referenced(KindLayer, func(i Info) bool { return layerUsesStyle(i.(*LayerInfo), o.ID) }) {
			return inUse("Style '%s' is in use by a layer", o.Name)
		}
		if referenced(KindLayerGroup, func(i Info) bool {
			for _, s := range i.(*LayerGroupInfo).StyleIDs {
				if s == o.ID {
					return true
				}
			}
			return false
		}) {
			return inUse("Style '%s' is in use by a layer group", o.Name)
		}
	case *LayerInfo, *LayerGroupInfo:
		if referenced(KindLayerGroup, func(i Info) bool {
			for _, p := range i.(*LayerGroupInfo).Publishables {
				if p.ID == obj.GetID() {
					return true
				}
			}
			return false
		}) {
			return inUse("'%s' is part of a layer group", obj.GetName())
		}
	}
	return nil
}
