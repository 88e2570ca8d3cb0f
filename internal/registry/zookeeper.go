package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	fserrors "github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
)

// ZKStore keeps one znode per cluster under root, holding the record as JSON.
type ZKStore struct {
	conn *zk.Conn
	root string
}

// NewZKStore connects to the ensemble and creates root when missing.
func NewZKStore(ctx context.Context, servers []string, root string, sessionTimeout time.Duration) (*ZKStore, error) {
	if sessionTimeout <= 0 {
		sessionTimeout = 10 * time.Second
	}
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, unavailable("zookeeper", "open", fmt.Errorf("zk connect: %w", err))
	}
	s := &ZKStore{conn: conn, root: path.Clean("/" + strings.TrimPrefix(root, "/"))}

	if err := waitConnected(ctx, events); err != nil {
		conn.Close()
		return nil, unavailable("zookeeper", "open", err)
	}
	if err := s.ensurePath(s.root); err != nil {
		conn.Close()
		return nil, unavailable("zookeeper", "open", fmt.Errorf("ensure root: %w", err))
	}
	return s, nil
}

func waitConnected(ctx context.Context, events <-chan zk.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("zk session closed before connecting")
			}
			if ev.State == zk.StateHasSession {
				return nil
			}
			if ev.State == zk.StateAuthFailed {
				return fmt.Errorf("zk authentication failed")
			}
		}
	}
}

func (s *ZKStore) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = s.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

func (s *ZKStore) node(name string) string { return s.root + "/" + name }

func (s *ZKStore) Get(ctx context.Context, name string) (types.NamedCluster, error) {
	data, _, err := s.conn.Get(s.node(name))
	if errors.Is(err, zk.ErrNoNode) {
		return types.NamedCluster{}, notFound("zookeeper", name)
	}
	if err != nil {
		return types.NamedCluster{}, unavailable("zookeeper", "get", err)
	}
	nc, err := decodeZKNode(name, data)
	if err != nil {
		return types.NamedCluster{}, unavailable("zookeeper", "get", err)
	}
	return nc, nil
}

func (s *ZKStore) List(ctx context.Context) ([]types.NamedCluster, error) {
	children, _, err := s.conn.Children(s.root)
	if err != nil {
		return nil, unavailable("zookeeper", "list", err)
	}
	sort.Strings(children)

	out := make([]types.NamedCluster, 0, len(children))
	for _, name := range children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nc, err := s.Get(ctx, name)
		if err != nil {
			if fserrors.IsCode(err, fserrors.ErrCodeClusterNotFound) {
				// deleted between Children and Get
				continue
			}
			return nil, err
		}
		out = append(out, nc)
	}
	return out, nil
}

func (s *ZKStore) Put(ctx context.Context, nc types.NamedCluster) error {
	data, err := encodeZKNode(nc)
	if err != nil {
		return unavailable("zookeeper", "put", err)
	}
	p := s.node(nc.Name)
	_, err = s.conn.Create(p, data, 0, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		_, err = s.conn.Set(p, data, -1)
	}
	if err != nil {
		return unavailable("zookeeper", "put", err)
	}
	return nil
}

func (s *ZKStore) Delete(ctx context.Context, name string) error {
	err := s.conn.Delete(s.node(name), -1)
	if errors.Is(err, zk.ErrNoNode) {
		return notFound("zookeeper", name)
	}
	if err != nil {
		return unavailable("zookeeper", "delete", err)
	}
	return nil
}

func (s *ZKStore) Close() error {
	s.conn.Close()
	return nil
}

// encodeZKNode renders the znode payload. The name lives in the node path.
func encodeZKNode(nc types.NamedCluster) ([]byte, error) {
	nc.Name = ""
	nc.Registered = false
	return json.Marshal(nc)
}

func decodeZKNode(name string, data []byte) (types.NamedCluster, error) {
	var nc types.NamedCluster
	if len(data) == 0 {
		return nc, fmt.Errorf("znode for %s is empty", name)
	}
	if err := json.Unmarshal(data, &nc); err != nil {
		return types.NamedCluster{}, err
	}
	nc.Name = name
	nc.Registered = false
	if len(nc.Properties) == 0 {
		nc.Properties = nil
	}
	return nc, nil
}
