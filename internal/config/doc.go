// Package config 加载 genconsole 的 YAML 配置，并为未填写的字段补齐默认值。
package config
