package registry

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	rdb "github.com/redis/go-redis/v9"

	"github.com/namedfs/namedfs/pkg/types"
)

// RedisStore keeps one hash per cluster plus a set of names.
//
//	<prefix>:clusters            set of names
//	<prefix>:cluster:<name>      hash of fields
type RedisStore struct {
	c      *rdb.Client
	prefix string
}

// NewRedisStore connects to addr and verifies the server answers.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	c := rdb.NewClient(&rdb.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, unavailable("redis", "open", err)
	}
	if prefix == "" {
		prefix = "namedfs"
	}
	return &RedisStore{c: c, prefix: prefix}, nil
}

func (s *RedisStore) setKey() string             { return s.prefix + ":clusters" }
func (s *RedisStore) hashKey(name string) string { return s.prefix + ":cluster:" + name }

func (s *RedisStore) Get(ctx context.Context, name string) (types.NamedCluster, error) {
	fields, err := s.c.HGetAll(ctx, s.hashKey(name)).Result()
	if err != nil {
		return types.NamedCluster{}, unavailable("redis", "get", err)
	}
	if len(fields) == 0 {
		return types.NamedCluster{}, notFound("redis", name)
	}
	nc, err := decodeRedisHash(name, fields)
	if err != nil {
		return types.NamedCluster{}, unavailable("redis", "get", err)
	}
	return nc, nil
}

func (s *RedisStore) List(ctx context.Context) ([]types.NamedCluster, error) {
	names, err := s.c.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, unavailable("redis", "list", err)
	}
	sort.Strings(names)

	pipe := s.c.Pipeline()
	cmds := make([]*rdb.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, s.hashKey(name))
	}
	if len(names) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, unavailable("redis", "list", err)
		}
	}

	out := make([]types.NamedCluster, 0, len(names))
	for i, name := range names {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			// name left behind by an interrupted delete
			continue
		}
		nc, err := decodeRedisHash(name, fields)
		if err != nil {
			return nil, unavailable("redis", "list", err)
		}
		out = append(out, nc)
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, nc types.NamedCluster) error {
	fields, err := encodeRedisHash(nc)
	if err != nil {
		return unavailable("redis", "put", err)
	}
	_, err = s.c.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
		pipe.Del(ctx, s.hashKey(nc.Name))
		pipe.HSet(ctx, s.hashKey(nc.Name), fields)
		pipe.SAdd(ctx, s.setKey(), nc.Name)
		return nil
	})
	if err != nil {
		return unavailable("redis", "put", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	var del *rdb.IntCmd
	_, err := s.c.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
		del = pipe.Del(ctx, s.hashKey(name))
		pipe.SRem(ctx, s.setKey(), name)
		return nil
	})
	if err != nil {
		return unavailable("redis", "delete", err)
	}
	return deleteResult("redis", name, del.Val())
}

func (s *RedisStore) Close() error { return s.c.Close() }

func encodeRedisHash(nc types.NamedCluster) (map[string]interface{}, error) {
	props, err := json.Marshal(nc.Properties)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"host":       nc.Host,
		"port":       strconv.Itoa(nc.Port),
		"variant":    nc.Variant.String(),
		"shim":       nc.ShimIdentifier,
		"properties": string(props),
	}
	if nc.Credentials != nil {
		fields["username"] = nc.Credentials.Username
		fields["secret"] = nc.Credentials.Secret
	}
	return fields, nil
}

func decodeRedisHash(name string, fields map[string]string) (types.NamedCluster, error) {
	nc := types.NamedCluster{Name: name, Host: fields["host"], ShimIdentifier: fields["shim"]}
	port, err := strconv.Atoi(fields["port"])
	if err != nil {
		return nc, err
	}
	nc.Port = port
	if nc.Variant, err = types.ParseSchemeVariant(fields["variant"]); err != nil {
		return nc, err
	}
	if u, s := fields["username"], fields["secret"]; u != "" || s != "" {
		nc.Credentials = &types.Credentials{Username: u, Secret: s}
	}
	if raw := fields["properties"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &nc.Properties); err != nil {
			return nc, err
		}
	}
	return nc, nil
}
