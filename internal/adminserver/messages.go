package adminserver

// ListHostsRequest takes no parameters; every registered peer is returned.
type ListHostsRequest struct{}

type HostInfo struct {
	Sysid      int32  `json:"sysid"`
	Name       string `json:"name"`
	Netid      string `json:"netid"`
	Address    string `json:"address"`
	Port       uint32 `json:"port"`
	Monitored  bool   `json:"monitored"`
	Reclaiming bool   `json:"reclaiming"`
	Refs       int32  `json:"refs"`
	VholdCount int32  `json:"vhold_count"`
}

type ListHostsResponse struct {
	Hosts []HostInfo `json:"hosts"`
}

type ListVholdsRequest struct {
	Sysid int32 `json:"sysid"`
}

type VholdInfo struct {
	Path          string `json:"path"`
	SleepRequests int32  `json:"sleep_requests"`
}

type ListVholdsResponse struct {
	Vholds []VholdInfo `json:"vholds"`
}

type SimulateCrashRequest struct{}

type SimulateCrashResponse struct{}
