package config

// ConfigBackend is where loom settings persist between runs. macOS stores
// them in UserDefaults (via the `defaults` CLI), other platforms in a JSON
// file under XDG_CONFIG_HOME. Values travel as strings or ints only; float
// keys such as the retrieval weights are stored as strings and parsed on
// read. Environment overrides (LOOM_*) are resolved above this interface.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
