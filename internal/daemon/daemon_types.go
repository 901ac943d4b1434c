package daemon

import (
	"github.com/adcondev/receipt-daemon/internal/poller"
	"github.com/adcondev/receipt-daemon/internal/printer"
)

// HealthResponse representa el estado de salud del servicio de impresión.
type HealthResponse struct {
	Status   string            `json:"status"`
	Queue    QueueStatus       `json:"queue"`
	Poller   poller.Statistics `json:"poller"`
	Delivery DeliveryStatus    `json:"delivery"`
	Printers printer.Summary   `json:"printers"`
	Clients  int               `json:"clients"`
	Build    BuildInfo         `json:"build"`
	Uptime   int               `json:"uptime_seconds"`
}

// QueueStatus representa el estado de la cola de impresión.
type QueueStatus struct {
	Backend     string  `json:"backend"`
	Current     int     `json:"current"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// DeliveryStatus describe la cadena de métodos de entrega.
type DeliveryStatus struct {
	Printer string   `json:"printer"`
	Methods []string `json:"methods"`
}

// BuildInfo contiene información sobre la compilación del servicio.
type BuildInfo struct {
	Env  string `json:"env"`
	Date string `json:"date"`
	Time string `json:"time"`
}
