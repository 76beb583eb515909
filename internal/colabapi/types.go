// Package colabapi is a stateless request issuer to Colab's two host
// families: the Colab API host (assignment lifecycle, keep-alive,
// proxy-token refresh) and the per-runtime proxy host (Jupyter REST).
package colabapi

import "time"

// Variant is the tagged enum of runtime kinds a caller can request.
type Variant string

const (
	VariantGPU     Variant = "GPU"
	VariantTPU     Variant = "TPU"
	VariantDefault Variant = "DEFAULT"
)

// Assignment is a Colab-allocated compute instance the user is entitled to use.
type Assignment struct {
	Endpoint    string  `json:"endpoint"`
	Accelerator string  `json:"accelerator"`
	Variant     Variant `json:"variant"`
}

// ProxyCredentials are short-lived per-runtime connection details.
type ProxyCredentials struct {
	URL                   string    `json:"url"`
	Token                 string    `json:"token"`
	TokenExpiresInSeconds int       `json:"tokenExpiresInSeconds"`
	FetchedAt             time.Time `json:"-"`
}

// Expired reports whether the credentials are past their validity window,
// with a small safety margin so callers refresh slightly ahead of expiry.
func (p ProxyCredentials) Expired(now time.Time) bool {
	if p.TokenExpiresInSeconds <= 0 {
		return true
	}
	deadline := p.FetchedAt.Add(time.Duration(p.TokenExpiresInSeconds) * time.Second)
	return !now.Before(deadline.Add(-5 * time.Second))
}

// CCUInfo reports the account's compute-credit-unit entitlements, used only
// for subscription-tier inference.
type CCUInfo struct {
	EligibleGPUs      []string `json:"eligibleGpus"`
	AssignmentsCount  int      `json:"assignmentsCount"`
}

// IsProTier reports whether the presence of a Pro-only GPU in EligibleGPUs
// implies a Pro subscription.
func (c CCUInfo) IsProTier() bool {
	proGPUs := map[string]bool{"A100": true, "L4": true, "V100": true}
	for _, g := range c.EligibleGPUs {
		if proGPUs[g] {
			return true
		}
	}
	return false
}

// JupyterSession is a Jupyter-server session on the runtime.
type JupyterSession struct {
	ID     string         `json:"id"`
	Path   string         `json:"path"`
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Kernel JupyterKernel  `json:"kernel"`
}

// JupyterKernel is the remote execution context behind a Jupyter session.
type JupyterKernel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state"`
	Connections    int    `json:"connections"`
}
