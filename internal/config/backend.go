package config

// ConfigBackend is the platform store for non-secret keys. Lookup returns the
// stored value as text; its keySpec parses it, so a backend only has to
// round-trip the string, int and bool values Store is given.
type ConfigBackend interface {
	Lookup(key string) (raw string, ok bool, err error)
	Store(key string, value any) error
	Remove(key string) error
}
