package escpos

// Real-time status requests (DLE EOT n).
const (
	statusOffline byte = 2
	statusError   byte = 3
	statusPaper   byte = 4
)

// Vendor status codes reported by Status and Start.
const (
	codeNormal      = 0
	codeOutOfPaper  = 2
	codeMalfunction = 4
	codeCoverOpen   = -5
	codeCutJam      = -6
)

// statusFromBytes maps the answers to the offline, error and paper sensor
// requests onto a vendor status code. The most severe condition wins.
func statusFromBytes(offline, errState, paper byte) int {
	switch {
	case errState&0x20 != 0:
		return codeMalfunction
	case errState&0x08 != 0:
		return codeCutJam
	case offline&0x04 != 0:
		return codeCoverOpen
	case paper&0x60 != 0:
		return codeOutOfPaper
	default:
		return codeNormal
	}
}
