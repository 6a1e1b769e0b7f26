package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/santazhang/vncproxy/internal/registry"
)

// SeedEntry is one row of a --seed-file mapping document.
type SeedEntry struct {
	ForwardKey string `yaml:"forward_key"`
	DestAddr   string `yaml:"dest_addr"`
	DestPasswd string `yaml:"dest_passwd,omitempty"`
}

// SeedFile is the top-level shape of a --seed-file document: a flat list of
// mappings to bulk-insert at startup, the YAML-native counterpart of
// vnc_proxy.c's -f mapping-file boot-time load.
type SeedFile struct {
	Mappings []SeedEntry `yaml:"mappings"`
}

// LoadSeedFile reads and parses path.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading seed file %s: %w", path, err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("config: parsing seed file %s: %w", path, err)
	}
	return &sf, nil
}

// ApplySeedFile inserts every entry in sf into store, skipping and counting
// (but not failing on) entries the registry rejects as DuplicateKey or
// InvalidName — additive and idempotent, never replacing rows that already
// exist. Any error from Insert, including one for a malformed dest_addr,
// stops the run and is returned along with the counts so far.
func ApplySeedFile(ctx context.Context, store registry.Store, sf *SeedFile) (inserted, skipped int, err error) {
	for _, e := range sf.Mappings {
		var passwd []byte
		if e.DestPasswd != "" {
			passwd = []byte(e.DestPasswd)
		}
		res, insertErr := store.Insert(ctx, registry.Mapping{
			ForwardKey: []byte(e.ForwardKey),
			DestAddr:   e.DestAddr,
			DestPasswd: passwd,
		})
		if insertErr != nil {
			return inserted, skipped, fmt.Errorf("config: seeding %q: %w", e.ForwardKey, insertErr)
		}
		if res == registry.Ok {
			inserted++
		} else {
			skipped++
		}
	}
	return inserted, skipped, nil
}
