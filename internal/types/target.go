package types

// TargetInfo describes the browser tab a capture session attaches to.
type TargetInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}
