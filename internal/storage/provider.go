package storage

import "vidforge/internal/ports"

// Provider is the publish target shared by the API and the worker. Alias
// to the port to keep call-sites simple.
type Provider = ports.StorageProvider
