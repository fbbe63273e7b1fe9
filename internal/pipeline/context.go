package pipeline

// Shared result of a release run.
//
// Stages receive the context by value and return an updated copy.
type Context struct {
	Name           string   `json:"name"`                     // Package name.
	Version        string   `json:"version"`                  // Package version.
	BuildDir       string   `json:"buildDir"`                 // Build directory.
	Archives       []string `json:"archives,omitempty"`       // Archive filenames produced or reused.
	ContentAddress string   `json:"contentAddress,omitempty"` // Address returned by the upload backend.
	ReleaseHash    string   `json:"releaseHash,omitempty"`    // Recorded, publishable address.
	Warnings       []string `json:"warnings,omitempty"`       // Non-fatal housekeeping failures.
}
