package zipper

import (
	"github.com/schollz/progressbar/v3"
)

// ProgressReporter is called by Rebuild to provide update on scanning the container.
//
//   - name: name of the entry that was just recovered; empty when done is true
//   - scanned: offset of the end of the last recovered payload, or size when done is true
//   - size: the size of the container before it was rebuilt
//   - done: is true only once, after the new central directory has been written
type ProgressReporter func(name string, scanned, size int64, done bool)

// NewProgressBarReporter creates a progress reporter that uses the specified progressbar.ProgressBar.
//
// The bar's max is set to the size of the container on the first call.
func NewProgressBarReporter(bar *progressbar.ProgressBar) ProgressReporter {
	var last int64
	return func(name string, scanned, size int64, done bool) {
		if bar.GetMax64() != size {
			bar.ChangeMax64(size)
		}

		if _, last = bar.Add64(scanned-last), scanned; done {
			_ = bar.Finish()
		}
	}
}
