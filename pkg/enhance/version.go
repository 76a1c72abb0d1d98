package enhance

const (
	sdkVersion = "0.9.0"

	// compatibleModelVersion is the model format major version this engine
	// loads.
	compatibleModelVersion = 1
)

// SDKVersion returns the engine version string.
func SDKVersion() string { return sdkVersion }

// CompatibleModelVersion returns the model format version [NewModel]
// accepts.
func CompatibleModelVersion() int { return compatibleModelVersion }
