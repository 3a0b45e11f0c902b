package agent

import "syscall"

// diskStats samples total and free bytes for the filesystem backing
// dir. Grounded on the storage-node disk-usage sample seen in the
// example pack's standalone VStack storage node, using the stdlib
// syscall rather than a third-party statfs wrapper.
func diskStats(dir string) (totalBytes, freeBytes int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, 0, err
	}
	total := int64(stat.Blocks) * int64(stat.Bsize)
	free := int64(stat.Bavail) * int64(stat.Bsize)
	return total, free, nil
}
