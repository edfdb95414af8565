// Package config provides centralized configuration management for the
// securechaind runtime: the API listen addresses, ledger storage backend,
// transition-event channel, anchoring notary, API keyring, and logging
// behaviour, loaded from a JSON file with sensible defaults applied.
package config
