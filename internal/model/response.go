package model

// StatusReport is the payload of a STATUS response.
type StatusReport struct {
	Online   bool  `json:"online"`
	ProbedAt int64 `json:"probed_at"`
}

// UsageReport is the payload of a USAGE response. Byte counts, not blocks.
type UsageReport struct {
	UptimeSec int64   `json:"uptime_sec"`
	DiskTotal uint64  `json:"disk_total"`
	DiskFree  uint64  `json:"disk_free"`
	MemTotal  uint64  `json:"mem_total"`
	MemFree   uint64  `json:"mem_free"`
	CPUMHz    float64 `json:"cpu_mhz"`
	Cores     int     `json:"cores"`
}

// Response is the plaintext the relay publishes back for STATUS and USAGE.
// WAKE is fire-and-forget and produces no response.
type Response struct {
	Kind     CommandKind   `json:"kind"`
	Serial   string        `json:"serial"`
	IssuedAt int64         `json:"issued_at"`
	Status   *StatusReport `json:"status,omitempty"`
	Usage    *UsageReport  `json:"usage,omitempty"`
}
