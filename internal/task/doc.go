// Package task 轮询后端生成任务的状态，直到任务进入终态、超时或连续出错。
package task
