package postgres

import "sparkify/internal/storage"

func init() {
	// registers the sink factory
	storage.Register("postgres", New)
}
