package repository

import "errors"

// ErrNotFound 表示目标记录不存在。
var ErrNotFound = errors.New("repository: record not found")

// ErrDuplicate 表示同一 digest 的记录已存在。
var ErrDuplicate = errors.New("repository: record already exists")
