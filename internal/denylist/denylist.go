// Package denylist holds sanctioned ledger addresses, requesters and assets.
// Any match is a hard deny that no rule or approval can override.
package denylist

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Patterns holds the raw entries organized by category.
type Patterns struct {
	// Addresses are matched exactly; ledger addresses are case sensitive.
	Addresses []string `yaml:"addresses"`
	// Requesters support * globs and match case-insensitively.
	Requesters []string `yaml:"requesters"`
	// Assets are frozen asset ids.
	Assets []string `yaml:"assets"`
}

// Denylist is safe for concurrent use.
type Denylist struct {
	mu         sync.RWMutex
	addresses  map[string]bool
	requesters []*regexp.Regexp
	assets     map[string]bool
	raw        Patterns
}

// New compiles p. Requester patterns that fail to compile are skipped.
func New(p Patterns) *Denylist {
	d := &Denylist{addresses: make(map[string]bool), assets: make(map[string]bool)}
	for _, a := range p.Addresses {
		d.add("addresses", a)
	}
	for _, r := range p.Requesters {
		d.add("requesters", r)
	}
	for _, a := range p.Assets {
		d.add("assets", a)
	}
	return d
}

// NewDefault creates a Denylist with the built-in entries.
func NewDefault() *Denylist {
	return New(DefaultPatterns)
}

// DefaultPath returns ~/.ledgerwatch/denylist.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ledgerwatch", "denylist.yaml")
}

// Load reads a denylist from a YAML file. Falls back to defaults if the file
// doesn't exist. Built-in entries are always included.
func Load(path string) (*Denylist, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return NewDefault(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil
		}
		return nil, err
	}

	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	p.Addresses = append(append([]string(nil), DefaultPatterns.Addresses...), p.Addresses...)
	return New(p), nil
}

// IsBlocked reports whether a request by requester to destination for
// assetID touches a sanctioned party. Empty arguments are not checked.
func (d *Denylist) IsBlocked(requester, destination, assetID string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if destination != "" && d.addresses[destination] {
		return true, "destination address is sanctioned: " + destination
	}
	if requester != "" {
		lower := strings.ToLower(requester)
		for _, re := range d.requesters {
			if re.MatchString(lower) {
				return true, "requester is sanctioned: " + requester
			}
		}
	}
	if assetID != "" && d.assets[assetID] {
		return true, "asset is frozen: " + assetID
	}
	return false, ""
}

// AddPattern adds an entry at runtime. Unknown categories are ignored.
func (d *Denylist) AddPattern(category, pattern string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.add(category, pattern)
}

func (d *Denylist) add(category, pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return
	}
	switch category {
	case "addresses":
		if !d.addresses[pattern] {
			d.addresses[pattern] = true
			d.raw.Addresses = append(d.raw.Addresses, pattern)
		}
	case "requesters":
		re, err := regexp.Compile("^" + globToRegex(strings.ToLower(pattern)) + "$")
		if err != nil {
			return
		}
		d.requesters = append(d.requesters, re)
		d.raw.Requesters = append(d.raw.Requesters, pattern)
	case "assets":
		if !d.assets[pattern] {
			d.assets[pattern] = true
			d.raw.Assets = append(d.raw.Assets, pattern)
		}
	}
}

// ToMap returns the raw entries for serialization.
func (d *Denylist) ToMap() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return map[string]any{
		"addresses":  append([]string(nil), d.raw.Addresses...),
		"requesters": append([]string(nil), d.raw.Requesters...),
		"assets":     append([]string(nil), d.raw.Assets...),
	}
}

func globToRegex(pattern string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*")
}
