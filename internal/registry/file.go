package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/namedfs/namedfs/pkg/types"
)

type fileDocument struct {
	Clusters []types.NamedCluster `yaml:"clusters"`
}

// FileStore keeps records in a single YAML document. Writes replace the file
// atomically through a temporary file and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens the document at path. A missing file is an empty registry.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file registry path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, unavailable("file", "open", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) load() (map[string]types.NamedCluster, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]types.NamedCluster{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	out := make(map[string]types.NamedCluster, len(doc.Clusters))
	for _, nc := range doc.Clusters {
		out[nc.Name] = nc
	}
	return out, nil
}

func (s *FileStore) save(clusters map[string]types.NamedCluster) error {
	doc := fileDocument{Clusters: sortedClusters(clusters)}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".clusters-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Get(ctx context.Context, name string) (types.NamedCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clusters, err := s.load()
	if err != nil {
		return types.NamedCluster{}, unavailable("file", "get", err)
	}
	nc, ok := clusters[name]
	if !ok {
		return types.NamedCluster{}, notFound("file", name)
	}
	return nc, nil
}

func (s *FileStore) List(ctx context.Context) ([]types.NamedCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clusters, err := s.load()
	if err != nil {
		return nil, unavailable("file", "list", err)
	}
	return sortedClusters(clusters), nil
}

func (s *FileStore) Put(ctx context.Context, nc types.NamedCluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clusters, err := s.load()
	if err != nil {
		return unavailable("file", "put", err)
	}
	clusters[nc.Name] = nc.Clone()
	if err := s.save(clusters); err != nil {
		return unavailable("file", "put", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clusters, err := s.load()
	if err != nil {
		return unavailable("file", "delete", err)
	}
	if _, ok := clusters[name]; !ok {
		return notFound("file", name)
	}
	delete(clusters, name)
	if err := s.save(clusters); err != nil {
		return unavailable("file", "delete", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func sortedClusters(clusters map[string]types.NamedCluster) []types.NamedCluster {
	out := make([]types.NamedCluster, 0, len(clusters))
	for _, nc := range clusters {
		out = append(out, nc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
