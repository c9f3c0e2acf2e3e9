package build

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sfml-ci/sfboot/pkgs/mod/module"
)

// Work directory layout:
//
//	workDir/
//	  .cache.json          # build cache: maps "name@version" to Entry
//	  .lock                # held for the duration of a run
//	  downloads/<file>     # fetched archives
//	  src/<name>/<dir>/    # extracted sources, built out of tree in build/
//	  staging/             # default staging dir
const cacheFile = ".cache.json"

// Entry records what a run observed and installed for one archive.
type Entry struct {
	URL    string `json:"url"`
	Sha256 string `json:"sha256"`
	// Dir is the top-level directory the archive extracted to.
	Dir string `json:"dir,omitempty"`
	// Installed lists the paths the install step added below the staging
	// dir, relative and slash separated, sorted.
	Installed []string  `json:"installed,omitempty"`
	BuildTime time.Time `json:"build_time"`
}

// Cache maps "name@version" keys to their entries.
type Cache struct {
	Entries map[string]*Entry `json:"cache"`

	file string
}

// Load reads the cache of a work dir. A missing file yields an empty cache.
func Load(workDir string) (*Cache, error) {
	c := &Cache{file: filepath.Join(workDir, cacheFile)}
	data, err := os.ReadFile(c.file)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", c.file)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, eris.Wrapf(err, "corrupt build cache %s", c.file)
	}
	return c, nil
}

// Get returns the entry of an archive.
func (c *Cache) Get(m module.Version) (*Entry, bool) {
	e, ok := c.Entries[m.String()]
	return e, ok
}

// Set replaces the entry of an archive.
func (c *Cache) Set(m module.Version, e *Entry) {
	if c.Entries == nil {
		c.Entries = make(map[string]*Entry)
	}
	c.Entries[m.String()] = e
}

// Save writes the cache back to its work dir.
func (c *Cache) Save() error {
	if c.file == "" {
		return eris.New("cache has no backing file")
	}
	if err := os.MkdirAll(filepath.Dir(c.file), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.file)
}
