package pagination

// PageSizeConfig defines default and maximum page sizes.
type PageSizeConfig struct {
	Default int
	Max     int
}

// DefaultPageSize is the page size used by every feed unless configured otherwise.
var DefaultPageSize = PageSizeConfig{Default: 20, Max: 100}

// ClampPageSize normalizes a requested page size.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	pageSize := value
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}
