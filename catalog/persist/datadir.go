package persist

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nci/geoserve/catalog"
	"golang.org/x/sync/errgroup"
)

const (
	workspacesDir  = "workspaces"
	stylesDir      = "styles"
	layerGroupsDir = "layergroups"
	defaultFile    = "default.xml"
)

var storeFiles = map[string]catalog.Kind{
	"datastore.xml":     catalog.KindDataStore,
	"coveragestore.xml": catalog.KindCoverageStore,
}

var resourceFiles = map[string]catalog.Kind{
	"featuretype.xml": catalog.KindFeatureType,
	"coverage.xml":    catalog.KindCoverage,
}

// DataDir keeps the catalog as XML files:
//
//	workspaces/default.xml
//	workspaces/<ws>/workspace.xml, namespace.xml
//	workspaces/<ws>/<store>/datastore.xml | coveragestore.xml
//	workspaces/<ws>/<store>/<resource>/featuretype.xml | coverage.xml, layer.xml
//	workspaces/<ws>/styles/<style>.xml, workspaces/<ws>/layergroups/<group>.xml
//	styles/<style>.xml, layergroups/<group>.xml
type DataDir struct {
	Root    string
	verbose bool

	mu    sync.Mutex
	cat   *catalog.Catalog
	paths map[string]string
}

func NewDataDir(root string, verbose bool) *DataDir {
	return &DataDir{Root: root, verbose: verbose, paths: map[string]string{}}
}

func (d *DataDir) abs(rel string) string {
	return filepath.Join(d.Root, rel)
}

type loadState struct {
	mu    sync.Mutex
	objs  byKind
	paths map[string]string
}

func (s *loadState) add(info catalog.Info, rel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objs[info.Kind()] = append(s.objs[info.Kind()], info)
	s.paths[info.GetID()] = rel
}

func (d *DataDir) readObject(st *loadState, kind catalog.Kind, rel string) {
	body, err := os.ReadFile(d.abs(rel))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("persist: failed to read %s: %v", rel, err)
		}
		return
	}
	info, err := decodeXML(kind, body)
	if err != nil {
		log.Printf("persist: skipping malformed %s: %v", rel, err)
		return
	}
	if info.GetID() == "" {
		log.Printf("persist: skipping %s without id", rel)
		return
	}
	st.add(info, rel)
	if d.verbose {
		log.Printf("persist: loaded %s %s from %s", kind, info.GetName(), rel)
	}
}

func subDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func xmlFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			out = append(out, e.Name())
		}
	}
	return out
}

func (d *DataDir) loadWorkspace(st *loadState, ws string) {
	wsRel := filepath.Join(workspacesDir, ws)
	d.readObject(st, catalog.KindWorkspace, filepath.Join(wsRel, "workspace.xml"))
	d.readObject(st, catalog.KindNamespace, filepath.Join(wsRel, "namespace.xml"))
	for _, f := range xmlFiles(d.abs(filepath.Join(wsRel, stylesDir))) {
		d.readObject(st, catalog.KindStyle, filepath.Join(wsRel, stylesDir, f))
	}
	for _, f := range xmlFiles(d.abs(filepath.Join(wsRel, layerGroupsDir))) {
		d.readObject(st, catalog.KindLayerGroup, filepath.Join(wsRel, layerGroupsDir, f))
	}
	for _, store := range subDirs(d.abs(wsRel)) {
		if store == stylesDir || store == layerGroupsDir {
			continue
		}
		storeRel := filepath.Join(wsRel, store)
		for name, kind := range storeFiles {
			d.readObject(st, kind, filepath.Join(storeRel, name))
		}
		for _, res := range subDirs(d.abs(storeRel)) {
			resRel := filepath.Join(storeRel, res)
			for name, kind := range resourceFiles {
				d.readObject(st, kind, filepath.Join(resRel, name))
			}
			d.readObject(st, catalog.KindLayer, filepath.Join(resRel, "layer.xml"))
		}
	}
}

// Load reads the data directory into cat. Workspace subtrees are read
// concurrently; unreadable documents are logged and skipped.
func (d *DataDir) Load(ctx context.Context, cat *catalog.Catalog) error {
	if err := os.MkdirAll(d.abs(workspacesDir), 0755); err != nil {
		return err
	}
	st := &loadState{objs: byKind{}, paths: map[string]string{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, ws := range subDirs(d.abs(workspacesDir)) {
		ws := ws
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d.loadWorkspace(st, ws)
			return nil
		})
	}
	g.Go(func() error {
		for _, f := range xmlFiles(d.abs(stylesDir)) {
			d.readObject(st, catalog.KindStyle, filepath.Join(stylesDir, f))
		}
		for _, f := range xmlFiles(d.abs(layerGroupsDir)) {
			d.readObject(st, catalog.KindLayerGroup, filepath.Join(layerGroupsDir, f))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	cat.Load(st.objs.ordered()...)
	if body, err := os.ReadFile(d.abs(filepath.Join(workspacesDir, defaultFile))); err == nil {
		var def defaultDoc
		if err := newDecoder(body).Decode(&def); err == nil {
			cat.LoadDefaultWorkspace(def.Name)
		} else {
			log.Printf("persist: malformed %s: %v", defaultFile, err)
		}
	}

	d.mu.Lock()
	// paths resolve against the first catalog loaded; a reload fills a
	// scratch catalog whose content is moved into that one.
	if d.cat == nil {
		d.cat = cat
	}
	d.paths = st.paths
	d.mu.Unlock()
	log.Printf("persist: loaded %d objects from %s", len(st.paths), d.Root)
	return nil
}

func wsName(cat *catalog.Catalog, id string) string {
	if ws := cat.GetWorkspace(id); ws != nil {
		return ws.Name
	}
	return ""
}

// relPath returns where info is stored. Callers hold d.mu.
func (d *DataDir) relPath(info catalog.Info) (string, error) {
	cat := d.cat
	if cat == nil {
		return "", fmt.Errorf("data directory is not loaded")
	}
	switch o := info.(type) {
	case *catalog.WorkspaceInfo:
		return filepath.Join(workspacesDir, o.Name, "workspace.xml"), nil
	case *catalog.NamespaceInfo:
		return filepath.Join(workspacesDir, o.Prefix, "namespace.xml"), nil
	case *catalog.DataStoreInfo:
		return filepath.Join(workspacesDir, wsName(cat, o.WorkspaceID), o.Name, "datastore.xml"), nil
	case *catalog.CoverageStoreInfo:
		return filepath.Join(workspacesDir, wsName(cat, o.WorkspaceID), o.Name, "coveragestore.xml"), nil
	case *catalog.FeatureTypeInfo:
		dir, err := d.storeDir(o.StoreID)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, o.Name, "featuretype.xml"), nil
	case *catalog.CoverageInfo:
		dir, err := d.storeDir(o.StoreID)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, o.Name, "coverage.xml"), nil
	case *catalog.LayerInfo:
		res := cat.GetResource(o.ResourceID)
		if res == nil {
			return "", fmt.Errorf("layer %s refers to a missing resource", o.Name)
		}
		resPath, err := d.relPath(res)
		if err != nil {
			return "", err
		}
		return filepath.Join(filepath.Dir(resPath), "layer.xml"), nil
	case *catalog.StyleInfo:
		return filepath.Join(d.styleDir(o.WorkspaceID), o.Name+".xml"), nil
	case *catalog.LayerGroupInfo:
		if o.WorkspaceID == "" {
			return filepath.Join(layerGroupsDir, o.Name+".xml"), nil
		}
		return filepath.Join(workspacesDir, wsName(cat, o.WorkspaceID), layerGroupsDir, o.Name+".xml"), nil
	}
	return "", fmt.Errorf("cannot persist %T", info)
}

func (d *DataDir) storeDir(storeID string) (string, error) {
	var store catalog.Info
	if s := d.cat.GetDataStore(storeID); s != nil {
		store = s
	} else if s := d.cat.GetCoverageStore(storeID); s != nil {
		store = s
	} else {
		return "", fmt.Errorf("missing store %s", storeID)
	}
	p, err := d.relPath(store)
	if err != nil {
		return "", err
	}
	return filepath.Dir(p), nil
}

func (d *DataDir) styleDir(wsID string) string {
	if wsID == "" {
		return stylesDir
	}
	return filepath.Join(workspacesDir, wsName(d.cat, wsID), stylesDir)
}

func writeFileAtomic(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// owns reports whether the object's directory holds its children.
func owns(info catalog.Info) bool {
	switch info.(type) {
	case *catalog.WorkspaceInfo, *catalog.DataStoreInfo, *catalog.CoverageStoreInfo,
		*catalog.FeatureTypeInfo, *catalog.CoverageInfo:
		return true
	}
	return false
}

func (d *DataDir) write(info catalog.Info) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rel, err := d.relPath(info)
	if err != nil {
		return err
	}
	if old, ok := d.paths[info.GetID()]; ok && old != rel {
		if owns(info) && filepath.Dir(old) != filepath.Dir(rel) {
			if err := d.moveDir(filepath.Dir(old), filepath.Dir(rel)); err != nil {
				return err
			}
		} else {
			os.Remove(d.abs(old))
			d.prune(filepath.Dir(old))
		}
	}
	body, err := encodeXML(info)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(d.abs(rel), body); err != nil {
		return err
	}
	d.paths[info.GetID()] = rel
	if d.verbose {
		log.Printf("persist: wrote %s", rel)
	}
	return nil
}

// moveDir renames a directory and rewrites the recorded paths below it.
// Callers hold d.mu.
func (d *DataDir) moveDir(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(d.abs(to)), 0755); err != nil {
		return err
	}
	if _, err := os.Stat(d.abs(to)); err == nil {
		return fmt.Errorf("cannot move %s: %s already exists", from, to)
	}
	if err := os.Rename(d.abs(from), d.abs(to)); err != nil {
		return err
	}
	prefix := from + string(filepath.Separator)
	for id, p := range d.paths {
		if strings.HasPrefix(p, prefix) {
			d.paths[id] = filepath.Join(to, strings.TrimPrefix(p, prefix))
		}
	}
	return nil
}

func (d *DataDir) HandleAdd(info catalog.Info) {
	if err := d.write(info); err != nil {
		log.Printf("persist: failed to save %s %s: %v", info.Kind(), info.GetName(), err)
	}
}

func (d *DataDir) HandleModify(old, info catalog.Info) {
	if s, ok := info.(*catalog.StyleInfo); ok {
		d.moveStyleFiles(old.(*catalog.StyleInfo), s)
	}
	if err := d.write(info); err != nil {
		log.Printf("persist: failed to save %s %s: %v", info.Kind(), info.GetName(), err)
	}
}

func (d *DataDir) HandleRemove(info catalog.Info) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rel, ok := d.paths[info.GetID()]
	if !ok {
		return
	}
	delete(d.paths, info.GetID())
	if err := os.Remove(d.abs(rel)); err != nil && !os.IsNotExist(err) {
		log.Printf("persist: failed to remove %s: %v", rel, err)
	}
	d.prune(filepath.Dir(rel))
}

// prune removes empty directories from dir upwards, stopping at the top
// level directories.
func (d *DataDir) prune(dir string) {
	for dir != "." && dir != workspacesDir && dir != stylesDir && dir != layerGroupsDir {
		if err := os.Remove(d.abs(dir)); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (d *DataDir) HandleDefaultWorkspace(ws *catalog.WorkspaceInfo) {
	p := d.abs(filepath.Join(workspacesDir, defaultFile))
	if ws == nil {
		os.Remove(p)
		return
	}
	body, err := xml.MarshalIndent(&defaultDoc{Name: ws.Name}, "", "  ")
	if err == nil {
		err = writeFileAtomic(p, append(body, '\n'))
	}
	if err != nil {
		log.Printf("persist: failed to save default workspace: %v", err)
	}
}

// StyleFile returns the absolute path of the style body.
func (d *DataDir) StyleFile(s *catalog.StyleInfo) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.abs(filepath.Join(d.styleDir(s.WorkspaceID), s.Filename))
}

func (d *DataDir) styleResource(s *catalog.StyleInfo, name string) (string, error) {
	clean, err := CleanResourceName(name)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.abs(filepath.Join(d.styleDir(s.WorkspaceID), filepath.FromSlash(clean))), nil
}

func (d *DataDir) ReadStyle(s *catalog.StyleInfo) ([]byte, error) {
	return os.ReadFile(d.StyleFile(s))
}

func (d *DataDir) WriteStyle(s *catalog.StyleInfo, body []byte) error {
	return writeFileAtomic(d.StyleFile(s), body)
}

func (d *DataDir) ReadStyleResource(s *catalog.StyleInfo, name string) ([]byte, error) {
	p, err := d.styleResource(s, name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (d *DataDir) WriteStyleResource(s *catalog.StyleInfo, name string, body []byte) error {
	p, err := d.styleResource(s, name)
	if err != nil {
		return err
	}
	return writeFileAtomic(p, body)
}

func (d *DataDir) DeleteStyleFiles(s *catalog.StyleInfo) error {
	if err := os.Remove(d.StyleFile(s)); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, r := range s.Resources {
		p, err := d.styleResource(s, r)
		if err != nil {
			continue
		}
		os.Remove(p)
	}
	return nil
}

// moveStyleFiles follows a style moving between workspaces or renaming its
// body file.
func (d *DataDir) moveStyleFiles(old, s *catalog.StyleInfo) {
	if old.WorkspaceID == s.WorkspaceID && old.Filename == s.Filename {
		return
	}
	from, to := d.StyleFile(old), d.StyleFile(s)
	if _, err := os.Stat(from); err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err == nil {
		err = os.Rename(from, to)
		if err != nil {
			log.Printf("persist: failed to move style body of %s: %v", s.Name, err)
		}
	}
	if old.WorkspaceID == s.WorkspaceID {
		return
	}
	for _, r := range old.Resources {
		rf, err1 := d.styleResource(old, r)
		rt, err2 := d.styleResource(s, r)
		if err1 != nil || err2 != nil {
			continue
		}
		os.MkdirAll(filepath.Dir(rt), 0755)
		os.Rename(rf, rt)
	}
}
