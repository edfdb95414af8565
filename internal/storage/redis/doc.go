// Package redis offers caching, distributed locking, and queue primitives for
// the OpenMCP runtime. It exposes higher-level helpers tailored to agent
// workloads such as response caching and rate limiting.
package redis
