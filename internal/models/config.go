// Package models holds the declarative node configuration: the document a
// node fetches at boot to learn its disk layout, filesystems, network and
// base image.
package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LayoutType chooses how declared partition slots are turned into devices.
type LayoutType string

const (
	// LayoutPlain uses partitions directly.
	LayoutPlain LayoutType = "plain"
	// LayoutRAID mirrors every slot across all disks with software RAID.
	LayoutRAID LayoutType = "md"
	// LayoutVirtual is a disk presented by a hardware controller; provisioned like plain.
	LayoutVirtual LayoutType = "vd"
)

const (
	// SwapMarker is the fs key that declares swap instead of a mountpoint.
	SwapMarker = "none"
	// RootMountpoint is the only mountpoint every configuration must declare.
	RootMountpoint = "/"
	// MaxPartitionSlots is the number of primary slots on a DOS label.
	MaxPartitionSlots = 4
	// DefaultKernel is used for the boot menu when global.kernel is unset.
	DefaultKernel = "/boot/vmlinuz"
	// DefaultMountOptions is written to fstab when an entry sets none.
	DefaultMountOptions = "noatime"
)

// Config is a parsed node configuration.
type Config struct {
	Global   Global                `yaml:"global"`
	DiskMgmt DiskManagement        `yaml:"diskmgmt"`
	LVM      *LVM                  `yaml:"lvm,omitempty"`
	FS       map[string]Filesystem `yaml:"fs"`
	Net      map[string]Interface  `yaml:"net,omitempty"`
}

type Global struct {
	Hostname    string `yaml:"hostname"`
	DomainName  string `yaml:"domainname,omitempty"`
	Image       string `yaml:"image"`
	Interactive bool   `yaml:"interactive,omitempty"`
	Kernel      string `yaml:"kernel,omitempty"`
}

// FQDN joins hostname and domain name, or returns the bare hostname.
func (g Global) FQDN() string {
	if g.DomainName == "" {
		return g.Hostname
	}
	return g.Hostname + "." + g.DomainName
}

// KernelPath returns the configured kernel or DefaultKernel.
func (g Global) KernelPath() string {
	if g.Kernel == "" {
		return DefaultKernel
	}
	return g.Kernel
}

type DiskManagement struct {
	Disks      []string       `yaml:"disks"`
	Type       LayoutType     `yaml:"type"`
	Partitions PartitionTable `yaml:"partitions"`
}

// Layout returns the layout type, defaulting to plain.
func (d DiskManagement) Layout() LayoutType {
	if d.Type == "" {
		return LayoutPlain
	}
	return d.Type
}

// Partition is one declared slot. Key is the mapping key as written; Slot
// is its integer value, or zero when the key is not an integer.
type Partition struct {
	Key  string
	Slot int
	Type Scalar
	Size Scalar
}

// PartitionTable keeps partition slots in declaration order, which a Go
// map would lose.
type PartitionTable []Partition

func (t *PartitionTable) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*t = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: partitions must be a mapping of slot number to partition", node.Line)
	}

	table := make(PartitionTable, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]

		var body struct {
			Type Scalar `yaml:"type"`
			Size Scalar `yaml:"size"`
		}
		if err := valueNode.Decode(&body); err != nil {
			return fmt.Errorf("partition %s: %w", keyNode.Value, err)
		}

		slot, err := strconv.Atoi(keyNode.Value)
		if err != nil {
			slot = 0
		}
		table = append(table, Partition{Key: keyNode.Value, Slot: slot, Type: body.Type, Size: body.Size})
	}
	*t = table
	return nil
}

// Scalar accepts any YAML scalar as a string, so `size: 100` and
// `size: "100"` decode identically.
type Scalar string

func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	if node.Tag == "!!null" {
		*s = ""
		return nil
	}
	*s = Scalar(node.Value)
	return nil
}

func (s Scalar) String() string {
	return string(s)
}

type LVM struct {
	VolumeGroups map[string]VolumeGroup `yaml:"vg"`
}

type VolumeGroup struct {
	PhysicalVolumes []string          `yaml:"pv"`
	LogicalVolumes  map[string]Scalar `yaml:"lv"`
}

type Filesystem struct {
	Device  string `yaml:"dev"`
	Type    string `yaml:"type"`
	Options string `yaml:"options,omitempty"`
}

// Interface describes one network interface of the installed system.
type Interface struct {
	IP     string `yaml:"ip"`
	Routes string `yaml:"routes,omitempty"`
}

// Parse decodes a configuration document. It does not validate it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigParseError{Err: err}
	}
	return &cfg, nil
}

// Load reads and parses the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		var perr *ConfigParseError
		if errors.As(err, &perr) {
			perr.Source = path
		}
		return nil, err
	}
	return cfg, nil
}
