package device

import (
	"runtime"
	"sort"

	"github.com/klauspost/cpuid/v2"

	"github.com/forgeml/trainctl/internal/api"
)

// HostInfo probes the host CPU for capabilities relevant to training:
// data loading and tokenization run on the CPU, and the vector extensions
// below decide whether bf16 CPU fallbacks are viable.
func HostInfo() api.HostInfo {
	info := api.HostInfo{
		CPUBrand: cpuid.CPU.BrandName,
		Cores:    runtime.NumCPU(),
		AVX512:   cpuid.CPU.Supports(cpuid.AVX512F),
		BF16:     cpuid.CPU.Supports(cpuid.AVX512BF16),
		AMX:      cpuid.CPU.Supports(cpuid.AMXBF16),
	}

	features := cpuid.CPU.FeatureSet()
	sort.Strings(features)
	info.Features = features

	return info
}
