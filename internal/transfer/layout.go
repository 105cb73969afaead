package transfer

import (
	"fmt"
	"os"
	"path/filepath"
)

// CamDir names the per-device folder under each category root
func CamDir(n int) string {
	return fmt.Sprintf("cam%d", n)
}

// AssignCamNumbers hands out count distinct numbers, smallest first, skipping
// every N for which camN already exists under any of roots. Nothing is created.
func AssignCamNumbers(roots []string, count int) []int {
	nums := make([]int, 0, count)
	for n := 1; len(nums) < count; n++ {
		if camExists(roots, n) {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

func camExists(roots []string, n int) bool {
	for _, root := range roots {
		if _, err := os.Lstat(filepath.Join(root, CamDir(n))); err == nil {
			return true
		}
	}
	return false
}
