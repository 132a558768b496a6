package util

import (
	"path/filepath"
	"strings"
)

// StemName 去掉目录和最后一个扩展名，得到文件主名
// "photo.final.png" -> "photo.final"；没有主名时返回 fallback
func StemName(name, fallback string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		return fallback
	}
	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		// 与浏览器端行为一致：没有扩展名的文件名视为没有主名
		return fallback
	}
	stem := base[:idx]
	if stem == "" {
		return fallback
	}
	return stem
}
