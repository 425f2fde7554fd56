package billing

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatBytes renders n with a binary unit, e.g. "1.5 GB" or "500 MB".
// Negative values are treated as Unlimited.
func FormatBytes(n int64) string {
	switch {
	case n < 0:
		return "unlimited"
	case n >= GiB:
		return printer.Sprintf("%.4g GB", float64(n)/float64(GiB))
	case n >= MiB:
		return printer.Sprintf("%.4g MB", float64(n)/float64(MiB))
	case n >= KiB:
		return printer.Sprintf("%.4g KB", float64(n)/float64(KiB))
	default:
		return printer.Sprintf("%d B", n)
	}
}
