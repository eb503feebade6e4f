// Package retention prunes old recordings so long-running servers don't fill
// the disk. The default policy keeps everything; operators opt in to limits
// by file count, age, or both.
package retention
