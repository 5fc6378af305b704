package registry

import "encoding/json"

// DefaultFallbackEstimate is attributed to instances that cannot be serialized.
const DefaultFallbackEstimate int64 = 1024

// JSONEstimator uses the JSON-encoded size of an instance as its footprint.
// Instances implementing Sizer report their own size, and instances that
// cannot be encoded (functions, channels, cycles) are charged Fallback.
type JSONEstimator struct {
	Fallback int64
}

// Estimate implements Estimator.
func (e JSONEstimator) Estimate(instance any) int64 {
	if instance == nil {
		return 0
	}
	if s, ok := instance.(Sizer); ok {
		return s.MemoryFootprint()
	}

	fallback := e.Fallback
	if fallback <= 0 {
		fallback = DefaultFallbackEstimate
	}
	data, err := json.Marshal(instance)
	if err != nil {
		return fallback
	}
	return int64(len(data))
}
