// Package config handles application configuration loading and management.
//
// Configuration is stored in ~/.rtcore/config.json and covers the worker pool
// layout, the time manager mode and the shared-memory radio device.
package config
