package allocator

// set through ldflags at build time
var (
	CurrentVersion = "0.1.0"
	CurrentBranch  = ""
	CurrentCommit  = ""
	BuildDate      = ""
	Platform       = ""
	GoVersion      = ""
)
