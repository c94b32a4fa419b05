package sld

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// MaxPackageEntry bounds the uncompressed size of a single zip entry.
const MaxPackageEntry = 32 << 20

// Package is a zipped style: one SLD document plus the resources it
// references (icons, fonts) keyed by their relative path.
type Package struct {
	SLDName   string
	SLD       []byte
	Resources map[string][]byte
}

func validResourceName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func ReadPackage(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("invalid style package: %v", err)
	}
	pkg := &Package{Resources: map[string][]byte{}}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		if !validResourceName(f.Name) {
			return nil, fmt.Errorf("invalid entry name '%s' in style package", f.Name)
		}
		if f.UncompressedSize64 > MaxPackageEntry {
			return nil, fmt.Errorf("entry '%s' in style package is too large", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(io.LimitReader(rc, MaxPackageEntry+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read '%s' from style package: %v", f.Name, err)
		}

		if strings.EqualFold(path.Ext(f.Name), ".sld") {
			if pkg.SLD != nil {
				return nil, fmt.Errorf("style package contains more than one SLD file")
			}
			pkg.SLDName = f.Name
			pkg.SLD = body
			continue
		}
		pkg.Resources[f.Name] = body
	}
	if pkg.SLD == nil {
		return nil, fmt.Errorf("style package does not contain an SLD file")
	}
	return pkg, nil
}

func ReadPackageBytes(body []byte) (*Package, error) {
	return ReadPackage(bytes.NewReader(body), int64(len(body)))
}

// ResourceNames returns the resource paths in lexical order.
func (p *Package) ResourceNames() []string {
	names := make([]string, 0, len(p.Resources))
	for n := range p.Resources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func WritePackage(w io.Writer, pkg *Package) error {
	zw := zip.NewWriter(w)
	name := pkg.SLDName
	if name == "" {
		name = "style.sld"
	}
	entries := append([]string{name}, pkg.ResourceNames()...)
	for i, n := range entries {
		body := pkg.SLD
		if i > 0 {
			body = pkg.Resources[n]
		}
		fw, err := zw.Create(n)
		if err != nil {
			return err
		}
		if _, err := fw.Write(body); err != nil {
			return err
		}
	}
	return zw.Close()
}
