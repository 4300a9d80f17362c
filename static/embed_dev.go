//go:build dev

package static

import (
	"io/fs"
	"os"
)

// DashboardFS returns the dashboard build output straight from disk in dev
// mode so dashboard changes show up without re-embedding.
func DashboardFS() (fs.FS, error) {
	return os.DirFS("dashboard/dist"), nil
}
