package types

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SchemeVariant distinguishes standard clusters from clusters reached through
// an embedded native client library.
type SchemeVariant int

const (
	VariantStandard SchemeVariant = iota
	VariantNativeClient
)

// String returns the configuration spelling of the variant.
func (v SchemeVariant) String() string {
	switch v {
	case VariantNativeClient:
		return "native"
	default:
		return "standard"
	}
}

// ParseSchemeVariant parses "standard" or "native" (case-insensitive).
func ParseSchemeVariant(s string) (SchemeVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "std":
		return VariantStandard, nil
	case "native", "native-client", "nativeclient":
		return VariantNativeClient, nil
	default:
		return VariantStandard, fmt.Errorf("unknown scheme variant %q", s)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (v SchemeVariant) MarshalYAML() (interface{}, error) {
	return v.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *SchemeVariant) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseSchemeVariant(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler so JSON records carry the
// variant name.
func (v SchemeVariant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *SchemeVariant) UnmarshalText(text []byte) error {
	parsed, err := ParseSchemeVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Credentials identify the user a cluster connection acts as.
type Credentials struct {
	Username string `yaml:"username" json:"username"`
	Secret   string `yaml:"secret,omitempty" json:"secret,omitempty"`
}

// NamedCluster describes how to reach one remote filesystem endpoint.
//
// Host and Port identify the endpoint; Name identifies a registry entry.
// Registered is false for ad-hoc copies materialized from the template.
type NamedCluster struct {
	Name           string            `yaml:"name" json:"name"`
	Host           string            `yaml:"host" json:"host"`
	Port           int               `yaml:"port" json:"port"`
	Variant        SchemeVariant     `yaml:"variant" json:"variant"`
	ShimIdentifier string            `yaml:"shim,omitempty" json:"shim,omitempty"`
	Credentials    *Credentials      `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	Properties     map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
	Registered     bool              `yaml:"-" json:"registered"`
}

// IsNativeClient reports whether the cluster bypasses generic network probing.
func (c NamedCluster) IsNativeClient() bool {
	return c.Variant == VariantNativeClient
}

// Address returns host:port.
func (c NamedCluster) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Key identifies the cluster in caches: the name for registered records and
// host:port for ad-hoc ones.
func (c NamedCluster) Key() string {
	if c.Registered && c.Name != "" {
		return c.Name
	}
	return strings.ToLower(c.Address())
}

// Property returns a property value or def when unset.
func (c NamedCluster) Property(key, def string) string {
	if v, ok := c.Properties[key]; ok && v != "" {
		return v
	}
	return def
}

// Clone returns a deep copy that shares no memory with c.
func (c NamedCluster) Clone() NamedCluster {
	out := c
	if c.Credentials != nil {
		creds := *c.Credentials
		out.Credentials = &creds
	}
	if c.Properties != nil {
		out.Properties = make(map[string]string, len(c.Properties))
		for k, v := range c.Properties {
			out.Properties[k] = v
		}
	}
	return out
}

// Capability is one filesystem operation a provider may declare.
type Capability string

const (
	CapCreate          Capability = "create"
	CapDelete          Capability = "delete"
	CapRename          Capability = "rename"
	CapGetType         Capability = "get-type"
	CapListChildren    Capability = "list-children"
	CapReadContent     Capability = "read-content"
	CapWriteContent    Capability = "write-content"
	CapGetLastModified Capability = "get-last-modified"
	CapSetLastModified Capability = "set-last-modified"
	CapRandomAccess    Capability = "random-access-read"
	CapURI             Capability = "uri-addressing"
)

// AllCapabilities lists every capability in declaration order.
var AllCapabilities = []Capability{
	CapCreate, CapDelete, CapRename, CapGetType, CapListChildren,
	CapReadContent, CapWriteContent, CapGetLastModified, CapSetLastModified,
	CapRandomAccess, CapURI,
}

// CapabilitySet is an immutable set of capabilities.
type CapabilitySet struct {
	caps map[Capability]struct{}
}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := CapabilitySet{caps: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		set.caps[c] = struct{}{}
	}
	return set
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s.caps[c]
	return ok
}

// List returns the capabilities in sorted order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s.caps))
	for c := range s.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of capabilities.
func (s CapabilitySet) Len() int {
	return len(s.caps)
}

// Equal reports whether both sets hold the same capabilities.
func (s CapabilitySet) Equal(other CapabilitySet) bool {
	if len(s.caps) != len(other.caps) {
		return false
	}
	for c := range s.caps {
		if !other.Has(c) {
			return false
		}
	}
	return true
}

// FileInfo describes one file or directory on a backend.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

// FileType is the result of a get-type query.
type FileType int

const (
	FileTypeImaginary FileType = iota
	FileTypeFile
	FileTypeFolder
)

func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeFolder:
		return "folder"
	default:
		return "imaginary"
	}
}
