// Package manifest extracts the package name, permissions, components and
// entry point from a decoded AndroidManifest.xml.
package manifest

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	actionMain       = "android.intent.action.MAIN"
	categoryLauncher = "android.intent.category.LAUNCHER"
)

var componentTags = map[string]bool{
	"activity":       true,
	"activity-alias": true,
	"service":        true,
	"provider":       true,
	"receiver":       true,
}

type Component struct {
	Kind       string   `yaml:"kind"`
	Name       string   `yaml:"name"`
	Exported   string   `yaml:"exported,omitempty"`
	Permission string   `yaml:"permission,omitempty"`
	Actions    []string `yaml:"actions,omitempty"`
	Categories []string `yaml:"categories,omitempty"`
}

// IsMain reports whether the component handles the MAIN action.
func (c *Component) IsMain() bool {
	return contains(c.Actions, actionMain)
}

func (c *Component) isLauncher() bool {
	return c.IsMain() && contains(c.Categories, categoryLauncher)
}

type Summary struct {
	Package             string      `yaml:"package"`
	VersionCode         string      `yaml:"versionCode,omitempty"`
	VersionName         string      `yaml:"versionName,omitempty"`
	MinSdk              string      `yaml:"minSdkVersion,omitempty"`
	TargetSdk           string      `yaml:"targetSdkVersion,omitempty"`
	Permissions         []string    `yaml:"usesPermissions,omitempty"`
	DeclaredPermissions []string    `yaml:"permissions,omitempty"`
	Components          []Component `yaml:"components,omitempty"`
	MainActivity        string      `yaml:"mainActivity,omitempty"`
}

// Collector is a ManifestEncoder that fills a Summary instead of writing XML.
type Collector struct {
	Summary Summary

	depth     int
	component int // index into Summary.Components, -1 outside of one
	compDepth int
}

func NewCollector() *Collector {
	return &Collector{component: -1}
}

func (c *Collector) EncodeToken(t xml.Token) error {
	switch t := t.(type) {
	case xml.StartElement:
		c.depth++
		c.start(t)
	case xml.EndElement:
		if c.component >= 0 && c.depth == c.compDepth {
			c.component = -1
		}
		c.depth--
	}
	return nil
}

// Flush picks the entry point once the whole document was seen.
func (c *Collector) Flush() error {
	s := &c.Summary
	s.MainActivity = ""

	var first string
	for i := range s.Components {
		comp := &s.Components[i]
		if comp.Kind != "activity" && comp.Kind != "activity-alias" {
			continue
		}
		if comp.isLauncher() {
			s.MainActivity = comp.Name
			return nil
		}
		if first == "" && comp.IsMain() {
			first = comp.Name
		}
	}
	s.MainActivity = first
	return nil
}

func (c *Collector) start(t xml.StartElement) {
	s := &c.Summary
	name := t.Name.Local

	switch {
	case name == "manifest" && c.depth == 1:
		s.Package = attr(t, "package")
		s.VersionCode = attr(t, "versionCode")
		s.VersionName = attr(t, "versionName")
	case name == "uses-sdk":
		s.MinSdk = attr(t, "minSdkVersion")
		s.TargetSdk = attr(t, "targetSdkVersion")
	case name == "uses-permission" || name == "uses-permission-sdk-23":
		if p := attr(t, "name"); p != "" {
			s.Permissions = append(s.Permissions, p)
		}
	case name == "permission":
		if p := attr(t, "name"); p != "" {
			s.DeclaredPermissions = append(s.DeclaredPermissions, p)
		}
	case componentTags[name] && c.component < 0:
		s.Components = append(s.Components, Component{
			Kind:       name,
			Name:       c.className(attr(t, "name")),
			Exported:   attr(t, "exported"),
			Permission: attr(t, "permission"),
		})
		c.component = len(s.Components) - 1
		c.compDepth = c.depth
	case name == "action" && c.component >= 0:
		comp := &s.Components[c.component]
		comp.Actions = appendUnique(comp.Actions, attr(t, "name"))
	case name == "category" && c.component >= 0:
		comp := &s.Components[c.component]
		comp.Categories = appendUnique(comp.Categories, attr(t, "name"))
	}
}

// className expands ".Foo" and "Foo" relative to the package, as Android does.
func (c *Collector) className(name string) string {
	pkg := c.Summary.Package
	switch {
	case name == "" || pkg == "":
		return name
	case strings.HasPrefix(name, "."):
		return pkg + name
	case !strings.Contains(name, "."):
		return pkg + "." + name
	}
	return name
}

// attr finds an attribute by local name, whatever prefix it was decoded with.
func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		key := a.Name.Local
		if i := strings.LastIndexByte(key, ':'); i >= 0 {
			if strings.HasPrefix(key, "xmlns") {
				continue
			}
			key = key[i+1:]
		}
		if key == local {
			return a.Value
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	if s == "" || contains(list, s) {
		return list
	}
	return append(list, s)
}

func (s *Summary) WriteYAML(w io.Writer) error {
	out, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func (s *Summary) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "package: %s\n", s.Package)
	if s.VersionCode != "" || s.VersionName != "" {
		fmt.Fprintf(&b, "version: %s (%s)\n", s.VersionName, s.VersionCode)
	}
	if s.MainActivity != "" {
		fmt.Fprintf(&b, "main activity: %s\n", s.MainActivity)
	}
	for _, p := range s.Permissions {
		fmt.Fprintf(&b, "uses-permission: %s\n", p)
	}
	for _, p := range s.DeclaredPermissions {
		fmt.Fprintf(&b, "permission: %s\n", p)
	}
	for _, comp := range s.Components {
		fmt.Fprintf(&b, "%s: %s", comp.Kind, comp.Name)
		if comp.Exported != "" {
			fmt.Fprintf(&b, " exported=%s", comp.Exported)
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
