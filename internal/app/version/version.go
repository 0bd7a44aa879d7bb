package version

// Overridden at build time with -ldflags "-X iptoasn/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

// Info represents the running build metadata.
type Info struct {
	Version string `json:"version"`
	BuiltAt string `json:"built_at"`
}

func BuildVersion() string {
	return buildVersion
}

func Get() Info {
	return Info{
		Version: buildVersion,
		BuiltAt: builtAt,
	}
}
