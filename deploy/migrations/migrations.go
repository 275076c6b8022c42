package migrations

import "embed"

// Files 暴露所有 goose 迁移文件，按方言分为 mysql 与 postgres 两个目录。
//
//go:embed mysql/*.sql postgres/*.sql
var Files embed.FS
