package pos

import "fmt"

// Printer status codes reported by the device.
const (
	StatusNormal         = 0
	StatusBusy           = 1
	StatusOutOfPaper     = 2
	StatusFormatError    = 3
	StatusMalfunction    = 4
	StatusOverheat       = 8
	StatusLowVoltage     = 9
	StatusUnfinished     = -16
	StatusCutJam         = -6
	StatusCoverOpen      = -5
	StatusNoFontLibrary  = -4
	StatusPackageTooLong = -2
	StatusCutUnsupported = -1
)

var statusMessages = map[int]string{
	StatusNormal:         "Normal",
	StatusBusy:           "Printer is busy",
	StatusOutOfPaper:     "Out of paper",
	StatusFormatError:    "Print data packet format error",
	StatusMalfunction:    "Printer malfunction",
	StatusOverheat:       "Printer over heats",
	StatusLowVoltage:     "Printer voltage is too low",
	StatusUnfinished:     "Printing is unfinished",
	StatusCutJam:         "Cut jam error",
	StatusCoverOpen:      "Cover open error",
	StatusNoFontLibrary:  "Printer has not installed font library",
	StatusPackageTooLong: "Data package is too long",
}

// StatusMessage maps a printer status code to its description.
func StatusMessage(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown status: %d", code)
}
