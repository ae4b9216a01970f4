package checkpointer

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Enumerated returns a function which returns filename with a counter
// inserted before its extension, so that no checkpoint overwrites
// another. The first call returns name_1.ext for filename name.ext,
// the second name_2.ext, and so on. The returned function may be
// called concurrently.
func Enumerated(filename string) func() string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	var (
		mu sync.Mutex
		i  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		i++
		return fmt.Sprintf("%v_%d%v", base, i, ext)
	}
}
