// Package history 维护生图历史列表的客户端缓存。
//
// 缓存按新鲜度分为 Fresh、Stale、Expired 三档：Fresh 直接返回缓存，
// Stale 返回缓存并在后台刷新，Expired 同步拉取。缓存载荷与元数据以两个
// 固定 key 存放在任意 storage.Store 中，版本不匹配或数据损坏时整体清空。
// Diff 与 Merge 供调用方按需做增量合并，SmartLoad 自身总是整体覆盖。
package history
