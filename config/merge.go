package config

// mergeConfigs merges override configuration into base. Scalars in override
// win when set; lists replace rather than append.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.Version != "" {
		result.Version = override.Version
	}
	if override.Watch != nil {
		result.Watch = append([]string(nil), override.Watch...)
	}
	if override.Ignore != nil {
		result.Ignore = append([]string(nil), override.Ignore...)
	}

	result.Store = mergeStore(base.Store, override.Store)
	result.Daemon = mergeDaemon(base.Daemon, override.Daemon)

	if override.Extensions != nil {
		merged := make(map[string]interface{}, len(base.Extensions)+len(override.Extensions))
		for key, value := range base.Extensions {
			merged[key] = value
		}
		for key, value := range override.Extensions {
			// If both sides have the same extension key, merge them one level deep
			if baseValue, exists := merged[key]; exists {
				if baseMap, baseOk := baseValue.(map[string]interface{}); baseOk {
					if overrideMap, overrideOk := value.(map[string]interface{}); overrideOk {
						mergedMap := make(map[string]interface{}, len(baseMap)+len(overrideMap))
						for k, v := range baseMap {
							mergedMap[k] = v
						}
						for k, v := range overrideMap {
							mergedMap[k] = v
						}
						merged[key] = mergedMap
						continue
					}
				}
			}
			merged[key] = value
		}
		result.Extensions = merged
	}

	return &result
}

func mergeStore(base, override *StoreConfig) *StoreConfig {
	if override == nil {
		return base
	}
	if base == nil {
		c := *override
		return &c
	}
	result := *base
	if override.Driver != "" {
		result.Driver = override.Driver
	}
	if override.Path != "" {
		result.Path = override.Path
	}
	if override.CacheSize != 0 {
		result.CacheSize = override.CacheSize
	}
	return &result
}

func mergeDaemon(base, override *DaemonConfig) *DaemonConfig {
	if override == nil {
		return base
	}
	if base == nil {
		c := *override
		return &c
	}
	result := *base
	if override.Socket != "" {
		result.Socket = override.Socket
	}
	if override.RequestTimeout != "" {
		result.RequestTimeout = override.RequestTimeout
	}
	if override.RequestCapacity != 0 {
		result.RequestCapacity = override.RequestCapacity
	}
	if override.HistoryLimit != 0 {
		result.HistoryLimit = override.HistoryLimit
	}
	if override.Debounce != "" {
		result.Debounce = override.Debounce
	}
	return &result
}
