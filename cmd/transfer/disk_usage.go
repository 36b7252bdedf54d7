package main

import "syscall"

// getDiskUsage возвращает total, used, available байт тома,
// на котором расположена директория dir.
func getDiskUsage(dir string) (total, used, available int64, err error) {
	var st syscall.Statfs_t
	if err = syscall.Statfs(dir, &st); err != nil {
		return 0, 0, 0, err
	}

	total = int64(st.Blocks) * int64(st.Bsize)
	available = int64(st.Bavail) * int64(st.Bsize)
	used = total - int64(st.Bfree)*int64(st.Bsize)

	return total, used, available, nil
}
