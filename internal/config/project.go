package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/nao1215/chainscan/internal/analyzer"
	"github.com/nao1215/chainscan/internal/discovery"
	"github.com/nao1215/chainscan/internal/model"
)

// ProjectConfig holds the discovery settings of one project.
type ProjectConfig struct {
	// Addresses are the seed addresses, in the order discovery starts from.
	Addresses []string `yaml:"addresses,omitempty"`

	// SkipAddresses are never analyzed, even when referenced.
	SkipAddresses []string `yaml:"skipAddresses,omitempty"`

	// MaxAddresses caps the number of addresses a run may reach.
	// Zero uses the file's defaults, which default to no limit.
	MaxAddresses int `yaml:"maxAddresses,omitempty"`

	// Overrides maps an address to its analyzer configuration.
	Overrides map[string]analyzer.Config `yaml:"overrides,omitempty"`
}

// File represents the structure of the .chainscan project file.
//
//	defaults:
//	  ignoreMethods: [$admin]
//	templates:
//	  "0xabc...": gnosis-safe/v1.3.0
//	projects:
//	  uniswap:
//	    addresses: ["0x1f98..."]
//	    overrides:
//	      "0x1f98...":
//	        ignoreDiscovery: true
type File struct {
	// Projects maps a project name to its settings.
	Projects map[string]ProjectConfig `yaml:"projects,omitempty"`

	// Templates maps a keccak256 code hash to a template name.
	Templates map[string]string `yaml:"templates,omitempty"`

	// Defaults is the analyzer configuration applied to every address of
	// every project.
	Defaults analyzer.Config `yaml:"defaults,omitempty"`

	// MaxAddresses is the default address limit for all projects.
	MaxAddresses int `yaml:"maxAddresses,omitempty"`
}

// GetProject returns the settings of a project.
// The second result is false when the project is not in the file.
func (f *File) GetProject(name string) (ProjectConfig, bool) {
	if f == nil {
		return ProjectConfig{}, false
	}
	p, ok := f.Projects[name]
	if !ok {
		return ProjectConfig{}, false
	}
	if p.MaxAddresses == 0 {
		p.MaxAddresses = f.MaxAddresses
	}
	return p, true
}

// ProjectNames returns the configured project names, sorted.
func (f *File) ProjectNames() []string {
	if f == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(f.Projects))
}

// ToDiscoveryOptions builds the options and seed list for c.Project pinned
// at blockNumber. Project file addresses come first, then c.Seeds.
func (c *Config) ToDiscoveryOptions(blockNumber uint64) (discovery.DiscoveryOptions, []model.Address, error) {
	opts := discovery.DefaultDiscoveryOptions(blockNumber)
	opts.MaxConcurrency = c.Concurrency
	opts.Retry.MaxAttempts = c.MaxAttempts
	opts.FailureMode = c.FailureMode()
	opts.RunTimeout = c.RunTimeout
	opts.PartialOnCancel = c.PartialOnCancel

	project, _ := c.ProjectFile.GetProject(c.Project)
	if c.ProjectFile != nil {
		opts.Defaults = c.ProjectFile.Defaults
	}

	if project.MaxAddresses < 0 {
		return discovery.DiscoveryOptions{}, nil, ErrInvalidMaxAddresses
	}
	opts.MaxAddresses = project.MaxAddresses

	seeds, err := model.ParseAddresses(append(slices.Clone(project.Addresses), c.Seeds...))
	if err != nil {
		return discovery.DiscoveryOptions{}, nil, fmt.Errorf("project %s: %w", c.Project, err)
	}
	if len(seeds) == 0 {
		return discovery.DiscoveryOptions{}, nil, ErrNoSeeds
	}

	opts.SkipAddresses, err = model.ParseAddresses(project.SkipAddresses)
	if err != nil {
		return discovery.DiscoveryOptions{}, nil, fmt.Errorf("project %s skipAddresses: %w", c.Project, err)
	}

	if len(project.Overrides) > 0 {
		opts.Overrides = make(map[model.Address]analyzer.Config, len(project.Overrides))
		for raw, override := range project.Overrides {
			addr, err := model.NewAddress(raw)
			if err != nil {
				return discovery.DiscoveryOptions{}, nil, fmt.Errorf("project %s override %q: %w", c.Project, raw, err)
			}
			if existing, dup := opts.Overrides[addr]; dup {
				// Same address spelled in two cases.
				override = existing.Merge(override)
			}
			opts.Overrides[addr] = override
		}
	}

	return opts, seeds, nil
}

// normalizeTemplates lower-cases template hashes so lookups are
// case-insensitive.
func normalizeTemplates(templates map[string]string) map[string]string {
	out := make(map[string]string, len(templates))
	for hash, name := range templates {
		out[strings.ToLower(hash)] = name
	}
	return out
}
