package kv

import "context"

// Scoped namespaces every key with a fixed prefix.
type Scoped struct {
	store  Store
	prefix string
}

// Scope returns a view of store where every key is prefixed with "<kind>:<id>:".
func Scope(store Store, kind, id string) *Scoped {
	return &Scoped{store: store, prefix: kind + ":" + id + ":"}
}

// Prefix returns the namespace prefix, mostly for logs.
func (s *Scoped) Prefix() string {
	return s.prefix
}

func (s *Scoped) Get(ctx context.Context, key string) (string, error) {
	return s.store.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.prefix+key, value)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.prefix+key)
}

func (s *Scoped) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return Update(ctx, s.store, s.prefix+key, fn)
}
