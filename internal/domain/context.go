package domain

// ContextSnapshot describes the remote environment a query is asked in.
// Only OS, Shell and WorkingDir take part in the cache fingerprint; the
// remaining fields enrich prompts and classification.
type ContextSnapshot struct {
	OS             string
	Shell          string
	WorkingDir     string
	User           string
	Host           string
	AvailableTools []string
}

// Fingerprint is the bounded subset of a snapshot combined with a query to
// form a cache key.
type Fingerprint struct {
	OS         string `json:"os"`
	Shell      string `json:"shell"`
	WorkingDir string `json:"working_dir"`
}

// Fingerprint extracts the cache-relevant fields.
func (c ContextSnapshot) Fingerprint() Fingerprint {
	return Fingerprint{
		OS:         c.OS,
		Shell:      c.Shell,
		WorkingDir: c.WorkingDir,
	}
}
