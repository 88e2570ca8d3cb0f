package vfs

import (
	"sort"
	"strings"
)

// Options carries per-request settings for a provider. Keys are namespaced by
// the ConfigBuilder that writes them. A nil *Options reads as empty.
type Options struct {
	values map[string]string
}

// NewOptions returns empty options.
func NewOptions() *Options {
	return &Options{values: make(map[string]string)}
}

// Set stores value under key. An empty value removes the key.
func (o *Options) Set(key, value string) *Options {
	if o.values == nil {
		o.values = make(map[string]string)
	}
	if value == "" {
		delete(o.values, key)
		return o
	}
	o.values[key] = value
	return o
}

// Get returns the value stored under key.
func (o *Options) Get(key string) (string, bool) {
	if o == nil {
		return "", false
	}
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the stored keys in sorted order.
func (o *Options) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, 0, len(o.values))
	for k := range o.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (o *Options) Clone() *Options {
	out := NewOptions()
	if o != nil {
		for k, v := range o.values {
			out.values[k] = v
		}
	}
	return out
}

// ConfigBuilder reads and writes one provider's keys in Options. Providers
// embed it and add typed setters.
type ConfigBuilder struct {
	prefix string
}

// NewConfigBuilder returns a builder whose keys start with prefix.
func NewConfigBuilder(prefix string) ConfigBuilder {
	return ConfigBuilder{prefix: strings.TrimSuffix(prefix, ".") + "."}
}

// Prefix returns the key namespace, including the trailing dot.
func (b ConfigBuilder) Prefix() string { return b.prefix }

// SetParam stores a namespaced value.
func (b ConfigBuilder) SetParam(opts *Options, name, value string) {
	opts.Set(b.prefix+name, value)
}

// Param returns a namespaced value, or "" when unset.
func (b ConfigBuilder) Param(opts *Options, name string) string {
	v, _ := opts.Get(b.prefix + name)
	return v
}
