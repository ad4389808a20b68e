// Package timeout defines centralized timeout constants for turn processing.
// Package timeout 定义对话轮次处理的集中式超时常量。
package timeout

import "time"

// Turn processing timeout constants.
// 轮次处理超时常量。
const (
	// StreamTimeout is the upper bound for a streamed generation.
	// StreamTimeout 是流式生成的上限时间。
	StreamTimeout = 5 * time.Minute

	// GenerateTimeout is the timeout for a batch generation call.
	// GenerateTimeout 是批量生成调用的超时时间。
	GenerateTimeout = 2 * time.Minute

	// MemorySearchTimeout bounds a memory-service fact search.
	// MemorySearchTimeout 是记忆服务检索的超时时间。
	MemorySearchTimeout = 10 * time.Second

	// MemoryStoreTimeout bounds a conversational write to the memory service.
	// MemoryStoreTimeout 是记忆服务写入的超时时间。
	MemoryStoreTimeout = 15 * time.Second

	// TaskTimeout is the default timeout of one external analysis task.
	// TaskTimeout 是单个外部分析任务的默认超时时间。
	TaskTimeout = 60 * time.Second

	// TaskKillGrace is how long a task gets after SIGTERM before it is killed.
	// TaskKillGrace 是任务收到 SIGTERM 后被强制结束前的宽限时间。
	TaskKillGrace = 2 * time.Second

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	// MaxTruncateLength 是日志中字符串截断的最大长度。
	MaxTruncateLength = 200
)
