package objectkey

import (
	"crypto/sha256"
	"fmt"
	"path"
	"strings"

	"github.com/tendant/content-store/pkg/contentstore"
)

// Generator converts a content id into a relative, slash-separated key used
// by path-oriented backends (filesystem, key/value).
type Generator interface {
	Key(id string) (string, error)
}

// Flat keeps the id as the key, optionally under a prefix
// Example: prefix/3f2a0c1e-....
type Flat struct {
	Prefix string
}

func NewFlat() *Flat {
	return &Flat{}
}

func (g *Flat) Key(id string) (string, error) {
	if err := validate(id); err != nil {
		return "", err
	}
	return join(g.Prefix, id), nil
}

// Sharded provides Git-style sharding on the id itself
// Example: 3f/2a/0c1e9b...
type Sharded struct {
	// ShardLength controls how many characters each shard directory uses (default: 2)
	ShardLength int
	// Depth controls how many shard directories precede the file (default: 1)
	Depth  int
	Prefix string
}

func NewSharded() *Sharded {
	return &Sharded{ShardLength: 2, Depth: 1}
}

func (g *Sharded) Key(id string) (string, error) {
	if err := validate(id); err != nil {
		return "", err
	}
	return join(g.Prefix, shard(strings.ReplaceAll(id, "-", ""), g.ShardLength, g.Depth)), nil
}

// Hashed shards on a SHA-256 of the id, which spreads sequential ids
// (for example numeric database keys) evenly
// Example: 6b/86b273ff34fce19d6b804eff5a3f5747ada4eaa22f1d49c01e52ddb7875b4b
type Hashed struct {
	ShardLength int
	Depth       int
	Prefix      string
}

func NewHashed() *Hashed {
	return &Hashed{ShardLength: 2, Depth: 1}
}

func (g *Hashed) Key(id string) (string, error) {
	if err := validate(id); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(id))
	return join(g.Prefix, shard(fmt.Sprintf("%x", sum), g.ShardLength, g.Depth)), nil
}

// Func allows callers to provide their own conversion
type Func func(id string) (string, error)

func (f Func) Key(id string) (string, error) {
	key, err := f(id)
	if err != nil {
		return "", err
	}
	if err := validate(key); err != nil {
		return "", err
	}
	return key, nil
}

// ByName returns the generator for a configured layout name.
func ByName(layout string) (Generator, error) {
	switch strings.ToLower(layout) {
	case "", "flat":
		return NewFlat(), nil
	case "sharded", "git":
		return NewSharded(), nil
	case "hashed":
		return NewHashed(), nil
	default:
		return nil, contentstore.ConfigError("unknown key layout %q", layout)
	}
}

func shard(s string, length, depth int) string {
	if length <= 0 {
		length = 2
	}
	if depth <= 0 {
		depth = 1
	}

	parts := make([]string, 0, depth+1)
	for i := 0; i < depth && len(s) > length; i++ {
		parts = append(parts, s[:length])
		s = s[length:]
	}
	return strings.Join(append(parts, s), "/")
}

func join(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// validate rejects ids that would escape the backend root.
func validate(key string) error {
	if key == "" {
		return contentstore.ConfigError("empty content key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return contentstore.ConfigError("content key %q must be relative", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return contentstore.ConfigError("content key %q escapes the storage root", key)
		}
	}
	if path.Clean(key) != key {
		return contentstore.ConfigError("content key %q is not clean", key)
	}
	return nil
}
