package utils

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path"

	"github.com/CloudyKit/jet/v6"
)

// Templates renders the built-in Jet templates, or the ones found in an
// override directory with the same names.
type Templates struct {
	set *jet.Set
}

// NewTemplates loads builtin (name -> source) into memory. When dir exists
// templates are read from it instead.
func NewTemplates(dir string, builtin map[string]string, verbose bool) *Templates {
	var loader jet.Loader
	if st, err := os.Stat(dir); dir != "" && err == nil && st.IsDir() {
		if verbose {
			log.Printf("loading templates from %s", dir)
		}
		loader = jet.NewOSFileSystemLoader(dir)
	} else {
		mem := jet.NewInMemLoader()
		for name, src := range builtin {
			mem.Set(path.Join("/", name), src)
		}
		loader = mem
	}
	var opts []jet.Option
	if verbose {
		opts = append(opts, jet.InDevelopmentMode())
	}
	return &Templates{set: jet.NewSet(loader, opts...)}
}

func (t *Templates) AddGlobal(name string, value interface{}) {
	t.set.AddGlobal(name, value)
}

// Render executes the named template with data as the context and vars as
// template variables.
func (t *Templates) Render(name string, vars map[string]interface{}, data interface{}) ([]byte, error) {
	tmpl, err := t.set.GetTemplate(path.Join("/", name))
	if err != nil {
		return nil, fmt.Errorf("template %s: %v", name, err)
	}
	vm := make(jet.VarMap)
	for k, v := range vars {
		vm.Set(k, v)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vm, data); err != nil {
		return nil, fmt.Errorf("template %s: %v", name, err)
	}
	return buf.Bytes(), nil
}
