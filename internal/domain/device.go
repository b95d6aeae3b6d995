package domain

// Device — сетевое устройство, цель автоматизации.
//
// Движок оперирует только именем: множества устройств в summary
// и в трекере целей — это множества имён.
type Device struct {
	Name      string            `json:"name" yaml:"name"`
	IPAddress string            `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	Platform  string            `json:"platform,omitempty" yaml:"platform,omitempty"`
	Vendor    string            `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Model     string            `json:"model,omitempty" yaml:"model,omitempty"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// DeviceNames возвращает имена устройств в исходном порядке.
func DeviceNames(devices []*Device) []string {
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	return names
}
