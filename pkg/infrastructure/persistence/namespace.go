package persistence

import (
	"strings"

	"github.com/wndlink/wndlink/pkg/domain"
)

// Namespace prefixes every key with the application id and, when set, the
// user id, so several apps and users can share one underlying store.
type Namespace struct {
	store  domain.KVStore
	prefix string
}

// NewNamespace scopes store to appID and userID. userID may be empty for
// application-wide keys.
func NewNamespace(store domain.KVStore, appID, userID string) *Namespace {
	prefix := appID + "_"
	if userID != "" {
		prefix += userID + "_"
	}
	return &Namespace{store: store, prefix: prefix}
}

// Prefix returns the key prefix in use.
func (n *Namespace) Prefix() string { return n.prefix }

func (n *Namespace) Get(key string) (string, error) {
	if key == "" {
		return "", domain.ErrEmptyKey
	}
	return n.store.Get(n.prefix + key)
}

func (n *Namespace) Set(key, value string) error {
	if key == "" {
		return domain.ErrEmptyKey
	}
	return n.store.Set(n.prefix+key, value)
}

func (n *Namespace) Remove(key string) error {
	if key == "" {
		return domain.ErrEmptyKey
	}
	return n.store.Remove(n.prefix + key)
}

// Keys lists keys under prefix with the namespace stripped.
func (n *Namespace) Keys(prefix string) ([]string, error) {
	keys, err := n.store.Keys(n.prefix + prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, n.prefix))
	}
	return out, nil
}

var _ domain.KVStore = (*Namespace)(nil)
