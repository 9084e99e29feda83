package cluster

// ClusterStatus is a JSON-serializable snapshot of the health partition
// suitable for status endpoints and tooling.
type ClusterStatus struct {
    Healthy   []string `json:"healthy"`
    Unhealthy []string `json:"unhealthy"`
    // Size is the expected cluster size the ratio is computed against.
    Size  int     `json:"size"`
    Ratio float64 `json:"ratio"`
    // RecoveryInterval in a human readable form, e.g. "5s".
    RecoveryInterval string   `json:"recovery_interval"`
    Closed           bool     `json:"closed"`
    Warnings         []string `json:"warnings,omitempty"`
}
