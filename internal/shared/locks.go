package shared

import "fmt"

// JobLockKey builds redis keys for jobs that must run on a single worker.
func JobLockKey(job string) string {
	return fmt.Sprintf("stockledger:job:%s:lock", job)
}
