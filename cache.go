package dataflow

import (
	"github.com/syssam/dataflow/querycache"
)

// Cache is the storage interface a read-through query cache delegates to.
// Users implement this with their preferred backend (Redis, Memcached,
// in-memory); it is an alias of querycache.Backend so both packages share one
// definition without an import cycle (querycache cannot import the root
// package, since the root package wires the catalog that querycache feeds).
type Cache = querycache.Backend
