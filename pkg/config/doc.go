// Package config parses environment variables into typed structs.
//
// Values come from the process environment, optionally seeded from one or
// more .env files. Variables already present in the environment are never
// overwritten by file values.
//
//	type StoreConfig struct {
//		Driver string `env:"STORE_DRIVER" envDefault:"mongo"`
//	}
//
//	cfg, err := config.Load[StoreConfig]()
package config
