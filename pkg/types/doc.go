// Package types defines the storage contract and the capability
// interfaces shared by the cache engine, the memory monitor, and the
// caching store facade.
package types
