package config

import "apikit/internal/store"

// Store converts the database settings into store connection parameters.
func (d DatabaseConfig) Store() store.Config {
	return store.Config{
		Driver:          d.Driver,
		DSN:             d.DSN,
		Host:            d.Host,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		Port:            d.Port,
		Charset:         d.Charset,
		Path:            d.Path,
		ApplicationName: "apikit",
		QueryTimeout:    d.QueryTimeout,
	}
}

// StoreConfigs returns every configured database in order.
func (c Config) StoreConfigs() []store.NamedConfig {
	out := make([]store.NamedConfig, 0, len(c.Databases))
	for _, db := range c.Databases {
		out = append(out, store.NamedConfig{Name: db.Name, Config: db.Store()})
	}
	return out
}
