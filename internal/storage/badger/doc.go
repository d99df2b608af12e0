// Package badger 提供基于嵌入式 BadgerDB 的缓存存储，适合单机部署。
package badger
