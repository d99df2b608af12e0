// Package api 通过 REST 接口暴露历史缓存与任务状态查询，供控制台与运维工具使用。
package api
