package builtin

import (
	"sort"

	"github.com/sipeed/godcmd/pkg/plugin"
	"github.com/sipeed/godcmd/pkg/plugin/banwords"
)

// Factory creates one builtin plugin instance.
type Factory func() (plugin.Plugin, error)

// Catalog returns compile-time builtin plugin factories by name. Plugins
// that keep configuration read it from pluginsDir.
func Catalog(pluginsDir string) map[string]Factory {
	return map[string]Factory{
		banwords.Name: func() (plugin.Plugin, error) {
			return banwords.Load(pluginsDir)
		},
	}
}

// Names returns sorted builtin plugin names.
func Names() []string {
	catalog := Catalog("")
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterAll instantiates every builtin plugin and registers it with pm.
func RegisterAll(pm *plugin.Manager, pluginsDir string) error {
	catalog := Catalog(pluginsDir)
	for _, name := range Names() {
		p, err := catalog[name]()
		if err != nil {
			return err
		}
		if err := pm.Register(p); err != nil {
			return err
		}
	}
	return nil
}
