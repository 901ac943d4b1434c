// Package printer enumera las impresoras que reporta el sistema operativo.
package printer

// Summary PrinterSummary provides lightweight overview for health checks
type Summary struct {
	Status        string `json:"status"` // "ok", "warning", "error"
	DetectedCount int    `json:"detected_count"`
	ThermalCount  int    `json:"thermal_count"`
	DefaultName   string `json:"default_name,omitempty"`
}

// Detail is one printer as reported by the OS.
type Detail struct {
	Name      string
	Port      string
	Driver    string
	Status    string
	IsDefault bool
	IsVirtual bool
	IsThermal bool
}

// Type is the printer class shown to clients.
func (d Detail) Type() string {
	switch {
	case d.IsVirtual:
		return "virtual"
	case d.IsThermal:
		return "thermal"
	default:
		return "physical"
	}
}

// DTO converts the detail to its JSON form.
func (d Detail) DTO() DetailDTO {
	return DetailDTO{
		Name:        d.Name,
		Port:        d.Port,
		Driver:      d.Driver,
		Status:      d.Status,
		IsDefault:   d.IsDefault,
		IsVirtual:   d.IsVirtual,
		PrinterType: d.Type(),
	}
}

// DetailDTO PrinterDetailDTO is the JSON response format for printer details
type DetailDTO struct {
	Name        string `json:"name"`
	Port        string `json:"port"`
	Driver      string `json:"driver"`
	Status      string `json:"status"`
	IsDefault   bool   `json:"is_default"`
	IsVirtual   bool   `json:"is_virtual"`
	PrinterType string `json:"printer_type"`
}
