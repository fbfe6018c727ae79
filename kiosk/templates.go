package kiosk

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
)

//go:embed templates/*
var templateFiles embed.FS

const (
	tmplIndex    = "index.html"
	tmplLogin    = "login.html"
	tmplCallback = "callback.html"
	tmplAdmin    = "admin.html"
)

func TemplateFilesFS() fs.FS {
	subFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic("Failed to create templates sub filesystem: " + err.Error())
	}
	return subFS
}

// ParseTemplate parses a template from the embedded filesystem
func ParseTemplate(name string) (*template.Template, error) {
	content, err := fs.ReadFile(TemplateFilesFS(), name)
	if err != nil {
		return nil, err
	}
	return template.New(name).Parse(string(content))
}

func parseScreens() (map[string]*template.Template, error) {
	screens := make(map[string]*template.Template)
	for _, name := range []string{tmplIndex, tmplLogin, tmplCallback, tmplAdmin} {
		t, err := ParseTemplate(name)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		screens[name] = t
	}
	return screens, nil
}
