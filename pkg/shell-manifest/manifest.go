package shellmanifest

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Manifest describes one version of the application shell: the name of the
// cache store for that version and the fixed list of assets that make up
// the shell.
type Manifest struct {
	// Version is the cache store name, e.g. "sar-checkin-cache-v1".
	// Bumping it is how a new shell ships.
	Version string `yaml:"version"`
	// Assets lists the URLs to pre-populate the store with. Entries may be
	// origin-relative ("./", "./manifest.json") or absolute URLs on the
	// origin.
	Assets []string `yaml:"assets"`
}

// store names travel inside provider key encodings
var versionRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Load reads and validates a manifest file.
func Load(filename string) (Manifest, error) {
	var m Manifest
	manifestBytes, err := os.ReadFile(filename)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(manifestBytes, &m); err != nil {
		return m, err
	}
	return m, m.Validate()
}

func (m Manifest) Validate() error {
	if !versionRe.MatchString(m.Version) {
		return fmt.Errorf("invalid version %q", m.Version)
	}
	if len(m.Assets) == 0 {
		return fmt.Errorf("manifest %s has no assets", m.Version)
	}
	for _, asset := range m.Assets {
		if asset == "" {
			return fmt.Errorf("manifest %s contains an empty asset", m.Version)
		}
	}
	return nil
}
