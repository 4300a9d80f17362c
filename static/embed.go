//go:build !dev

package static

import (
	"embed"
	"io/fs"
)

// dashboardDistFS embeds the built CareerForge dashboard for production
// builds. The dashboard build output must be copied to static/dist before
// compiling; a placeholder index.html is committed so the embed always
// resolves.
//
//go:embed all:dist
var dashboardDistFS embed.FS

// DashboardFS returns the embedded dashboard filesystem with the "dist"
// prefix stripped.
func DashboardFS() (fs.FS, error) {
	return fs.Sub(dashboardDistFS, "dist")
}
