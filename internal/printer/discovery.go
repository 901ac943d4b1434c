package printer

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCacheTTL is how long an enumeration result is reused.
const DefaultCacheTTL = 30 * time.Second

// Discovery handles printer enumeration with caching
type Discovery struct {
	lister      Lister
	logger      *zap.Logger
	cache       []Detail
	lastRefresh time.Time
	cacheTTL    time.Duration
	mu          sync.RWMutex
}

// NewDiscovery creates a new discovery service
func NewDiscovery(lister Lister, ttl time.Duration, logger *zap.Logger) *Discovery {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{lister: lister, cacheTTL: ttl, logger: logger}
}

func (pd *Discovery) fresh() bool {
	return pd.cache != nil && time.Since(pd.lastRefresh) < pd.cacheTTL
}

func (pd *Discovery) snapshot() []Detail {
	result := make([]Detail, len(pd.cache))
	copy(result, pd.cache)
	return result
}

// GetPrinters returns cached printers or refreshes if stale. On a failed
// refresh the stale cache is returned together with the error.
func (pd *Discovery) GetPrinters(ctx context.Context, forceRefresh bool) ([]Detail, error) {
	pd.mu.RLock()
	if !forceRefresh && pd.fresh() {
		defer pd.mu.RUnlock()
		return pd.snapshot(), nil
	}
	pd.mu.RUnlock()

	pd.mu.Lock()
	defer pd.mu.Unlock()

	// another caller may have refreshed while we waited for the lock
	if !forceRefresh && pd.fresh() {
		return pd.snapshot(), nil
	}

	printers, err := pd.lister.List(ctx)
	if err != nil {
		if pd.cache != nil {
			return pd.snapshot(), err
		}
		return nil, err
	}
	if printers == nil {
		printers = []Detail{}
	}

	pd.cache = printers
	pd.lastRefresh = time.Now()
	return pd.snapshot(), nil
}

// GetSummary returns a lightweight summary for health checks
func (pd *Discovery) GetSummary() Summary {
	printers, err := pd.GetPrinters(context.Background(), false)
	if err != nil && printers == nil {
		return Summary{Status: "error", DetectedCount: 0}
	}

	thermal := FilterThermalPrinters(printers)
	physical := FilterPhysicalPrinters(printers)

	var defaultName string
	for _, p := range printers {
		if p.IsDefault {
			defaultName = p.Name
			break
		}
	}

	status := "ok"
	if len(thermal) == 0 && len(physical) > 0 {
		status = "warning"
	} else if len(physical) == 0 {
		status = "error"
	}

	return Summary{
		Status:        status,
		DetectedCount: len(printers),
		ThermalCount:  len(thermal),
		DefaultName:   defaultName,
	}
}

// Resolve returns printer names to try, best first: exact matches of the
// preferred names in order, then case-insensitive and partial matches, then
// the OS default, thermal printers and any other physical printer. Preferred
// names the OS does not report are kept at the end so a network printer
// reachable only by address still gets a chance.
func (pd *Discovery) Resolve(ctx context.Context, preferred ...string) []string {
	printers, err := pd.GetPrinters(ctx, false)
	if err != nil {
		pd.logger.Warn("printer enumeration failed while resolving", zap.Error(err))
	}

	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, want := range preferred {
		for _, p := range printers {
			if p.Name == want {
				add(p.Name)
			}
		}
	}
	for _, want := range preferred {
		lw := strings.ToLower(want)
		if lw == "" {
			continue
		}
		for _, p := range printers {
			if strings.EqualFold(p.Name, want) {
				add(p.Name)
			}
		}
		for _, p := range printers {
			if !p.IsVirtual && strings.Contains(strings.ToLower(p.Name), lw) {
				add(p.Name)
			}
		}
	}
	for _, p := range printers {
		if p.IsDefault && !p.IsVirtual {
			add(p.Name)
		}
	}
	for _, p := range FilterThermalPrinters(printers) {
		add(p.Name)
	}
	for _, p := range FilterPhysicalPrinters(printers) {
		add(p.Name)
	}
	for _, want := range preferred {
		add(want)
	}
	return out
}

// LogStartupDiagnostics logs printer info at service start
func (pd *Discovery) LogStartupDiagnostics(verbose bool) {
	printers, err := pd.GetPrinters(context.Background(), true)
	if err != nil {
		pd.logger.Warn("error enumerating printers", zap.Error(err))
		return
	}

	thermal := FilterThermalPrinters(printers)
	pd.logger.Info("printers detected", zap.Int("installed", len(printers)), zap.Int("thermal", len(thermal)))
	if len(thermal) == 0 {
		pd.logger.Warn("no thermal printers detected")
	}
	for _, p := range thermal {
		pd.logger.Info("thermal printer",
			zap.String("name", p.Name),
			zap.String("port", p.Port),
			zap.String("status", p.Status),
			zap.Bool("default", p.IsDefault),
		)
	}

	if verbose {
		for _, p := range printers {
			if p.IsVirtual {
				pd.logger.Debug("virtual printer", zap.String("name", p.Name))
			}
		}
	}
}
